package catalog

import "embed"

// Built-in baseline rules, used when no rules directory is configured.
// Keeping them embedded means a fresh install evaluates something sensible
// before any operator-authored catalog exists.
//
//go:embed presets/*.yml
var presetFS embed.FS
