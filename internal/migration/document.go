package migration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DeepCopy returns a copy of doc that shares no maps or slices with it.
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	return copyValue(doc).(Document)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

// Decode parses raw JSON into a Document. Numbers are kept as json.Number so
// that integers survive a migration unchanged.
func Decode(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not a JSON object")
	}
	return doc, nil
}

// Lookup returns the value at a dotted path such as "org.settings.locale".
func Lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Require returns an error naming the first dotted path missing from doc.
func Require(doc Document, paths ...string) error {
	for _, p := range paths {
		if v, ok := Lookup(doc, p); !ok || v == nil {
			return fmt.Errorf("missing %s", p)
		}
	}
	return nil
}

// Object returns doc[key] as a Document, creating it when absent or not an object.
func Object(doc Document, key string) Document {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	m := Document{}
	doc[key] = m
	return m
}

// SetDefault sets doc[key] to value unless a non-nil value is present.
func SetDefault(doc Document, key string, value any) {
	if v, ok := doc[key]; !ok || v == nil {
		doc[key] = value
	}
}

// String returns doc[key] when it is a string.
func String(doc Document, key string) string {
	s, _ := doc[key].(string)
	return s
}
