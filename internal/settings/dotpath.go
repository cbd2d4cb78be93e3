package settings

import (
	"encoding/json"
	"fmt"
)

// toMap round-trips v through JSON to obtain its generic map representation.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// remarshal decodes a generic map into a typed destination.
func remarshal(m map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// deepCopyMap returns an independent copy of a JSON-decoded document tree.
func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// lookup walks segments through m, returning (value, true) if the full path
// resolves to a leaf or subtree.
func lookup(m map[string]interface{}, segments []string) (interface{}, bool) {
	if len(segments) == 0 || segments[0] == "" {
		return m, true
	}
	v, ok := m[segments[0]]
	if !ok {
		return nil, false
	}
	if len(segments) == 1 {
		return v, true
	}
	next, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return lookup(next, segments[1:])
}

// assign walks segments through m, creating intermediate maps as needed, and
// sets the final segment to value.
func assign(m map[string]interface{}, segments []string, value interface{}) error {
	if len(segments) == 0 || segments[0] == "" {
		return fmt.Errorf("settings: empty path")
	}
	key := segments[0]
	if len(segments) == 1 {
		m[key] = value
		return nil
	}
	child, ok := m[key].(map[string]interface{})
	if !ok {
		if existing, present := m[key]; present && existing != nil {
			return fmt.Errorf("settings: path segment %q is not an object", key)
		}
		child = make(map[string]interface{})
		m[key] = child
	}
	return assign(child, segments[1:], value)
}
