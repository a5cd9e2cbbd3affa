package content

import (
	"encoding/json"
	"sort"
)

// Signature returns the canonical serialization of m used for cheap
// equality comparison: JSON with keys in sorted order regardless of
// insertion order. encoding/json sorts plain-map keys at every nesting
// level, so equal contents produce identical signatures.
//
// A nil map and an empty map share the signature "{}".
func Signature(m *Map) string {
	if m == nil || m.Len() == 0 {
		return "{}"
	}
	b, err := json.Marshal(m.ToMap())
	if err != nil {
		// Form values come from json.Unmarshal or are plain scalars,
		// so this cannot fail in practice. An unencodable value still
		// must not collide with any real signature.
		return "!" + err.Error()
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
