package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// decodeStrict decodes data into out, a non-nil pointer. It rejects:
//   - unknown object fields and trailing data;
//   - null, unless the target type can hold it (pointer, interface, slice, map);
//   - objects missing a field of the target struct that is neither a pointer
//     nor tagged omitempty.
func decodeStrict(data []byte, out any) error {
	target := reflect.TypeOf(out).Elem()
	trimmed := bytes.TrimSpace(data)

	if bytes.Equal(trimmed, []byte("null")) {
		if nullable(target) {
			return json.Unmarshal(trimmed, out)
		}
		return fmt.Errorf("null is not a valid %s", target)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after value")
	}

	if target.Kind() == reflect.Struct && len(trimmed) > 0 && trimmed[0] == '{' {
		return checkRequired(trimmed, target)
	}
	return nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// checkRequired reports the first required field of t absent from obj.
func checkRequired(obj []byte, t reflect.Type) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return err
	}
	// encoding/json matches names case-insensitively; so does this check.
	present := make(map[string]bool, len(fields))
	for k := range fields {
		present[strings.ToLower(k)] = true
	}
	for _, name := range requiredFields(t) {
		if !present[strings.ToLower(name)] {
			return fmt.Errorf("missing field %q for %s", name, t)
		}
	}
	return nil
}

// requiredFields lists the JSON names of t's exported fields that must be
// present. Embedded structs are not inspected.
func requiredFields(t reflect.Type) []string {
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		if strings.Contains(","+opts+",", ",omitempty,") || strings.Contains(","+opts+",", ",omitzero,") {
			continue
		}
		if nullable(f.Type) {
			continue
		}
		names = append(names, name)
	}
	return names
}
