// Package valuecodec is a minimal synchronous value codec treated as a
// black box by the streaming layer above it: a stringify operation
// parameterized by a map of type-tagged reducers, and a parse operation
// parameterized by a map of type-tagged revivers. It is a deliberately
// small implementation over encoding/json; the framing layer that drives it
// is the actual subject of this module.
package valuecodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrUnencodable indicates a value could not be flattened by Stringify: no
// reducer claimed it and it is not a plain data shape (nil, bool, numeric,
// string, slice, map, or struct).
var ErrUnencodable = errors.New("valuecodec: value cannot be encoded")

// Reducer inspects an arbitrary value and, if it recognises its type,
// returns a payload to flatten in its place. Returning ok=false means "does
// not apply"; the walker falls through to the next reducer or to plain
// data handling.
type Reducer func(v any) (payload any, ok bool)

// Reviver reconstructs a value from the payload a matching Reducer
// produced, given the same type tag.
type Reviver func(payload any) (any, error)

// tagPrefix prefixes the JSON array discriminant written as element zero of
// a tagged value: ["$<tag>", <payload>].
const tagPrefix = "$"

// Stringify flattens v into self-delimited JSON text, consulting reducers
// (keyed by tag) before falling back to plain data handling. Reducers are
// tried in a stable, sorted-by-tag order so encoding is deterministic
// regardless of Go map iteration order.
func Stringify(v any, reducers map[string]Reducer) (string, error) {
	tags := sortedKeys(reducers)
	walked, err := walkEncode(v, reducers, tags)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(walked)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return string(data), nil
}

func walkEncode(v any, reducers map[string]Reducer, tags []string) (any, error) {
	for _, tag := range tags {
		if payload, ok := reducers[tag](v); ok {
			walkedPayload, err := walkEncode(payload, reducers, tags)
			if err != nil {
				return nil, err
			}
			return [2]any{tagPrefix + tag, walkedPayload}, nil
		}
	}
	return walkPlain(v, reducers, tags)
}

func walkPlain(v any, reducers map[string]Reducer, tags []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			walked, err := walkEncode(elem, reducers, tags)
			if err != nil {
				return nil, err
			}
			out[i] = walked
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			walked, err := walkEncode(elem, reducers, tags)
			if err != nil {
				return nil, err
			}
			out[k] = walked
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return walkEncode(rv.Elem().Interface(), reducers, tags)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			walked, err := walkEncode(rv.Index(i).Interface(), reducers, tags)
			if err != nil {
				return nil, err
			}
			out[i] = walked
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			walked, err := walkEncode(iter.Value().Interface(), reducers, tags)
			if err != nil {
				return nil, err
			}
			out[key] = walked
		}
		return out, nil
	case reflect.Struct:
		return walkStruct(rv, reducers, tags)
	}
	return nil, fmt.Errorf("%w: unsupported type %T", ErrUnencodable, v)
}

func walkStruct(rv reflect.Value, reducers map[string]Reducer, tags []string) (any, error) {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		name, omitempty := jsonFieldName(field)
		if name == "-" {
			continue
		}
		fv := rv.Field(i)
		if omitempty && fv.IsZero() {
			continue
		}
		walked, err := walkEncode(fv.Interface(), reducers, tags)
		if err != nil {
			return nil, err
		}
		out[name] = walked
	}
	return out, nil
}

func jsonFieldName(field reflect.StructField) (name string, omitempty bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	name = field.Name
	for i, part := range splitComma(tag) {
		if i == 0 {
			if part != "" {
				name = part
			}
			continue
		}
		if part == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Parse reverses Stringify: it decodes JSON text into a generic value tree
// and unwraps every tagged node by calling the matching reviver.
func Parse(text string, revivers map[string]Reviver) (any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("valuecodec: invalid payload: %w", err)
	}
	return walkDecode(decoded, revivers)
}

func walkDecode(v any, revivers map[string]Reviver) (any, error) {
	switch val := v.(type) {
	case []any:
		if tag, payload, ok := asTagged(val); ok {
			reviver, known := revivers[tag]
			if !known {
				return nil, fmt.Errorf("valuecodec: unknown tag %q", tag)
			}
			unwalked, err := walkDecode(payload, revivers)
			if err != nil {
				return nil, err
			}
			return reviver(unwalked)
		}
		out := make([]any, len(val))
		for i, elem := range val {
			walked, err := walkDecode(elem, revivers)
			if err != nil {
				return nil, err
			}
			out[i] = walked
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			walked, err := walkDecode(elem, revivers)
			if err != nil {
				return nil, err
			}
			out[k] = walked
		}
		return out, nil
	default:
		return val, nil
	}
}

func asTagged(arr []any) (tag string, payload any, ok bool) {
	if len(arr) != 2 {
		return "", nil, false
	}
	s, isString := arr[0].(string)
	if !isString || len(s) == 0 || s[:1] != tagPrefix {
		return "", nil, false
	}
	return s[1:], arr[1], true
}

func sortedKeys(m map[string]Reducer) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
