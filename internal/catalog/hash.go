package catalog

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fleetcomply/fleetcomply/internal/models"
)

// VersionToken returns a content-addressed token over the catalog's canonical
// serialized form ("sha256:<hex>"). Remote evaluators compare tokens to detect
// catalog drift without transferring the rules themselves. The token is stable
// across map iteration order and JSON formatting differences.
func VersionToken(rules []models.RuleDefinition) (string, error) {
	// Round-trip through JSON so the canonicalizer sees plain maps and slices
	// rather than struct field order.
	encoded, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("encode catalog: %w", err)
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return "", fmt.Errorf("decode catalog: %w", err)
	}

	canonical, err := canonicalJSON(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize catalog: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("sha256:%x", sum), nil
}

// canonicalJSON marshals v with all object keys sorted, recursively.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(canonicalizeValue(v))
}

func canonicalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func canonicalizeMap(m map[string]any) *orderedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	om := &orderedMap{keys: keys, values: make(map[string]any, len(m))}
	for k, v := range m {
		om.values[k] = canonicalizeValue(v)
	}
	return om
}

type orderedMap struct {
	keys   []string
	values map[string]any
}

func (om *orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, key := range om.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		valueJSON, err := json.Marshal(om.values[key])
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valueJSON...)
	}
	return append(buf, '}'), nil
}
