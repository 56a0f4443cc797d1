// Package catalog loads declarative compliance rules from YAML sources and
// builds derived indexes over them. Loading is deterministic: files are read
// in lexical name order and rules keep their declaration order within a file.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
)

// LoadError reports a malformed rule source. It fails the whole catalog load,
// as opposed to per-rule evaluation errors which never do.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("catalog load: %v", e.Err)
	}
	return fmt.Sprintf("catalog load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader reads rule definitions from a directory of YAML files. When Dir is
// empty the embedded preset catalog is used. Loaders hold no cache; callers
// decide refresh cadence.
type Loader struct {
	Dir string
	Log logging.Logger
}

// NewLoader returns a Loader over dir. A nil logger is replaced with a noop.
func NewLoader(dir string, log logging.Logger) *Loader {
	if log == nil {
		log = logging.Noop()
	}
	return &Loader{Dir: dir, Log: log}
}

// Load returns every rule definition from the loader's source, stable-sorted
// by file name then declaration order. Duplicate rule ids and entries missing
// id or condition fail the load.
func (l *Loader) Load() ([]models.RuleDefinition, error) {
	if l.Dir == "" {
		return l.loadFS(presetFS, "presets")
	}
	return l.loadFS(os.DirFS(l.Dir), ".")
}

func (l *Loader) loadFS(fsys fs.FS, root string) ([]models.RuleDefinition, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &LoadError{Source: l.Dir, Err: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yml" || ext == ".yaml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var rules []models.RuleDefinition
	seen := make(map[string]string)

	for _, name := range names {
		data, err := fs.ReadFile(fsys, filepath.Join(root, name))
		if err != nil {
			return nil, &LoadError{Source: name, Err: err}
		}
		parsed, err := l.parseFile(name, data)
		if err != nil {
			return nil, err
		}
		for _, r := range parsed {
			if prev, ok := seen[r.ID]; ok {
				return nil, &LoadError{
					Source: name,
					Err:    fmt.Errorf("duplicate rule id %q (first declared in %s)", r.ID, prev),
				}
			}
			seen[r.ID] = name
			rules = append(rules, r)
		}
	}

	return rules, nil
}

// parseFile parses one YAML source. A file whose top level is not a list is
// skipped silently; a list entry that is not a mapping is skipped with a
// warning. Entries missing id or condition fail the load.
func (l *Loader) parseFile(name string, data []byte) ([]models.RuleDefinition, error) {
	var raw []any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		// Valid YAML with a non-list top level (mapping, scalar) lands here
		// too; only report documents that do not parse at all.
		var probe any
		if yerr := yaml.Unmarshal(data, &probe); yerr != nil {
			return nil, &LoadError{Source: name, Err: yerr}
		}
		l.Log.Warn("catalog", "skipping rules file: top level is not a list", "file", name)
		return nil, nil
	}

	var rules []models.RuleDefinition
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			l.Log.Warn("catalog", "skipping malformed rule entry", "file", name, "index", i)
			continue
		}
		r, err := ruleFromMap(m)
		if err != nil {
			return nil, &LoadError{Source: name, Err: fmt.Errorf("entry %d: %w", i, err)}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func ruleFromMap(m map[string]any) (models.RuleDefinition, error) {
	id := stringField(m, "id")
	if id == "" {
		return models.RuleDefinition{}, fmt.Errorf("missing required field %q", "id")
	}
	condition := stringField(m, "condition")
	if condition == "" {
		return models.RuleDefinition{}, fmt.Errorf("rule %q: missing required field %q", id, "condition")
	}

	severity := models.Severity(strings.ToLower(stringField(m, "severity")))
	if severity == "" {
		severity = models.SeverityLow
	}

	return models.RuleDefinition{
		ID:          id,
		Description: stringField(m, "description"),
		Severity:    severity,
		Tags:        stringListField(m, "tags"),
		Frameworks:  stringListField(m, "frameworks"),
		Condition:   condition,
	}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringListField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FrameworkIndex maps each framework identifier to the rules tagged with it.
// A rule carrying N frameworks appears in N buckets; bucket order follows
// catalog order.
func FrameworkIndex(rules []models.RuleDefinition) map[string][]models.RuleDefinition {
	index := make(map[string][]models.RuleDefinition)
	for _, r := range rules {
		for _, fw := range r.Frameworks {
			index[fw] = append(index[fw], r)
		}
	}
	return index
}
