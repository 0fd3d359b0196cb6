package modes

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"omc/internal/state"
)

// loadDoc reads a mode document into v and returns any fields the struct does
// not model, so a later save can round-trip them untouched. Missing documents
// return found=false with v left zeroed.
func loadDoc(path string, v any) (extra map[string]json.RawMessage, found bool, err error) {
	var raw map[string]json.RawMessage
	if err := state.ReadJSON(path, &raw); err != nil {
		if err == state.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	merged, err := json.Marshal(raw)
	if err != nil {
		return nil, false, fmt.Errorf("remarshal document: %w", err)
	}
	if err := json.Unmarshal(merged, v); err != nil {
		return nil, false, fmt.Errorf("decode document: %w", err)
	}

	known := knownJSONKeys(reflect.TypeOf(v).Elem())
	extra = map[string]json.RawMessage{}
	for key, val := range raw {
		if !known[key] {
			extra[key] = val
		}
	}
	return extra, true, nil
}

// saveDoc writes v atomically, overlaying any preserved unknown fields that
// the struct does not itself define.
func saveDoc(path string, v any, extra map[string]json.RawMessage) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("reshape document: %w", err)
	}
	known := knownJSONKeys(reflect.TypeOf(v).Elem())
	for key, val := range extra {
		if !known[key] {
			out[key] = val
		}
	}
	return state.WriteJSON(path, out)
}

// knownJSONKeys collects the JSON keys a struct (and its embedded structs)
// serializes to.
func knownJSONKeys(t reflect.Type) map[string]bool {
	keys := map[string]bool{}
	collectJSONKeys(t, keys)
	return keys
}

func collectJSONKeys(t reflect.Type, keys map[string]bool) {
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			collectJSONKeys(ft, keys)
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = field.Name
		}
		keys[name] = true
	}
}
