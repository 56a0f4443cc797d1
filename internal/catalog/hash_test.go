package catalog

import (
	"strings"
	"testing"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

func TestVersionToken_Stable(t *testing.T) {
	rules := []models.RuleDefinition{
		{ID: "a", Description: "first", Severity: models.SeverityHigh, Condition: "true", Frameworks: []string{"NIS2"}},
		{ID: "b", Condition: "false"},
	}

	first, err := VersionToken(rules)
	if err != nil {
		t.Fatalf("VersionToken() error: %v", err)
	}
	if !strings.HasPrefix(first, "sha256:") {
		t.Fatalf("VersionToken() = %q, want sha256: prefix", first)
	}
	if len(first) != len("sha256:")+64 {
		t.Fatalf("VersionToken() = %q, want 64 hex digits", first)
	}

	second, err := VersionToken(rules)
	if err != nil {
		t.Fatalf("VersionToken() error: %v", err)
	}
	if first != second {
		t.Errorf("token not stable: %q vs %q", first, second)
	}
}

func TestVersionToken_SensitiveToContent(t *testing.T) {
	base := []models.RuleDefinition{{ID: "a", Condition: "true"}}
	changed := []models.RuleDefinition{{ID: "a", Condition: "false"}}

	t1, err := VersionToken(base)
	if err != nil {
		t.Fatalf("VersionToken() error: %v", err)
	}
	t2, err := VersionToken(changed)
	if err != nil {
		t.Fatalf("VersionToken() error: %v", err)
	}
	if t1 == t2 {
		t.Error("token unchanged after condition edit")
	}
}

func TestVersionToken_SensitiveToOrder(t *testing.T) {
	ab := []models.RuleDefinition{{ID: "a", Condition: "true"}, {ID: "b", Condition: "true"}}
	ba := []models.RuleDefinition{{ID: "b", Condition: "true"}, {ID: "a", Condition: "true"}}

	t1, err := VersionToken(ab)
	if err != nil {
		t.Fatalf("VersionToken() error: %v", err)
	}
	t2, err := VersionToken(ba)
	if err != nil {
		t.Fatalf("VersionToken() error: %v", err)
	}
	if t1 == t2 {
		t.Error("catalog order must be part of the token")
	}
}

func TestCanonicalJSON_SortsKeysRecursively(t *testing.T) {
	got, err := canonicalJSON(map[string]any{
		"z": 1,
		"a": map[string]any{"b": 2, "A": 3},
	})
	if err != nil {
		t.Fatalf("canonicalJSON() error: %v", err)
	}
	want := `{"a":{"A":3,"b":2},"z":1}`
	if string(got) != want {
		t.Errorf("canonicalJSON() = %s, want %s", got, want)
	}
}
