package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jacentio/docstore/store"
)

// parseValue reads a command-line value: JSON when it parses as JSON,
// otherwise a plain string. So 7 is a number, "7" (quoted) and abc are
// strings.
func parseValue(s string) store.Value {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return store.String(s)
	}
	out, err := fromJSON(v)
	if err != nil {
		return store.String(s)
	}
	return out
}

// parseDocument reads a JSON object as a Document.
func parseDocument(data []byte) (*store.Document, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse document: expected a JSON object")
	}
	val, err := fromJSON(m)
	if err != nil {
		return nil, err
	}
	doc, _ := val.AsMap()
	return doc, nil
}

func fromJSON(v any) (store.Value, error) {
	switch x := v.(type) {
	case nil:
		return store.Null(), nil
	case bool:
		return store.Bool(x), nil
	case string:
		return store.String(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return store.Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return store.Value{}, fmt.Errorf("invalid number %s: %w", x, err)
		}
		return store.Float(f), nil
	case []any:
		vs := make([]store.Value, len(x))
		for i, e := range x {
			ev, err := fromJSON(e)
			if err != nil {
				return store.Value{}, err
			}
			vs[i] = ev
		}
		return store.List(vs...), nil
	case map[string]any:
		doc := store.NewDocument()
		for _, k := range sortedKeys(x) {
			ev, err := fromJSON(x[k])
			if err != nil {
				return store.Value{}, err
			}
			doc.Set(k, ev)
		}
		return store.Map(doc), nil
	default:
		return store.Value{}, fmt.Errorf("unsupported JSON value %T", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseFilter reads "field op value", for example "total >= 100" or
// `status in ["open","held"]`.
func parseFilter(s string) (store.Filter, error) {
	parts := strings.Fields(s)
	if len(parts) < 3 {
		return store.Filter{}, fmt.Errorf("filter %q: expected \"field op value\"", s)
	}
	field, op := parts[0], parts[1]
	rest := strings.TrimSpace(s)
	rest = strings.TrimSpace(strings.TrimPrefix(rest, field))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, op))
	f, err := store.NewFilter(field, op, parseValue(rest))
	if err != nil {
		return store.Filter{}, fmt.Errorf("filter %q: %w", s, err)
	}
	return f, nil
}

// keyDocument builds a document holding only the key fields named by key.
func keyDocument(key store.Key, args []string) (*store.Document, error) {
	want := 1
	if key.SortKey != "" {
		want = 2
	}
	if len(args) != want {
		return nil, fmt.Errorf("expected %d key value(s) for %s, got %d", want, keyLabel(key), len(args))
	}
	doc := store.NewDocument().Set(key.PartitionKey, parseValue(args[0]))
	if key.SortKey != "" {
		doc.Set(key.SortKey, parseValue(args[1]))
	}
	return doc, nil
}

func keyLabel(key store.Key) string {
	if key.SortKey == "" {
		return key.PartitionKey
	}
	return key.PartitionKey + "/" + key.SortKey
}
