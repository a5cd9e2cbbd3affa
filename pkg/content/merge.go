package content

// Merge applies overlay on top of defaults and returns a new Map.
// Overlay values win for matching keys; keys present only in defaults
// survive. Key order is the defaults' order followed by overlay-only
// keys in the overlay's order. This is the load-time policy: stored
// data overrides the form's defaults, but fields added to the form
// after the record was written keep their default value.
func Merge(defaults, overlay *Map) *Map {
	out := NewMap()
	if defaults != nil {
		for _, k := range defaults.Keys() {
			v, _ := defaults.Get(k)
			out.Set(k, cloneValue(v))
		}
	}
	if overlay != nil {
		for _, k := range overlay.Keys() {
			v, _ := overlay.Get(k)
			out.Set(k, cloneValue(v))
		}
	}
	return out
}

// DeepMerge merges overlay into defaults recursively: where both sides
// hold a nested object under the same key the objects are merged,
// otherwise the overlay value replaces the default. Slices are replaced
// wholesale; element-wise slice merging has no sensible meaning for
// form values.
func DeepMerge(defaults, overlay *Map) *Map {
	out := NewMap()
	if defaults != nil {
		for _, k := range defaults.Keys() {
			v, _ := defaults.Get(k)
			out.Set(k, cloneValue(v))
		}
	}
	if overlay != nil {
		for _, k := range overlay.Keys() {
			ov, _ := overlay.Get(k)
			if dv, ok := out.Get(k); ok {
				dm, dOK := dv.(map[string]any)
				om, oOK := ov.(map[string]any)
				if dOK && oOK {
					out.Set(k, deepMergeValues(dm, om))
					continue
				}
			}
			out.Set(k, cloneValue(ov))
		}
	}
	return out
}

func deepMergeValues(defaults, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overlay))
	for k, v := range defaults {
		out[k] = cloneValue(v)
	}
	for k, v := range overlay {
		dv, ok := out[k]
		if ok {
			dm, dOK := dv.(map[string]any)
			om, oOK := v.(map[string]any)
			if dOK && oOK {
				out[k] = deepMergeValues(dm, om)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}
