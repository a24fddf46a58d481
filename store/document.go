package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// Document is an ordered mapping from field name to Value.
//
// A Document is not safe for concurrent mutation. RunActions writes the new
// revision (and, for Create, a generated partition key) back onto the
// documents it was given once their writes succeed.
type Document struct {
	fields []string
	values map[string]Value
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]Value)}
}

// Set stores v under field, keeping the original position if the field
// already exists.
func (d *Document) Set(field string, v Value) *Document {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, ok := d.values[field]; !ok {
		d.fields = append(d.fields, field)
	}
	d.values[field] = v
	return d
}

// Get returns the top-level field value.
func (d *Document) Get(field string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	v, ok := d.values[field]
	return v, ok
}

// Has reports whether field is present.
func (d *Document) Has(field string) bool {
	_, ok := d.Get(field)
	return ok
}

// Lookup resolves a dot-separated field path through nested maps.
func (d *Document) Lookup(path string) (Value, bool) {
	segs := strings.Split(path, ".")
	cur := d
	for i, seg := range segs {
		v, ok := cur.Get(seg)
		if !ok {
			return Value{}, false
		}
		if i == len(segs)-1 {
			return v, true
		}
		m, ok := v.AsMap()
		if !ok {
			return Value{}, false
		}
		cur = m
	}
	return Value{}, false
}

// Delete removes field from the document.
func (d *Document) Delete(field string) {
	if _, ok := d.values[field]; !ok {
		return
	}
	delete(d.values, field)
	for i, f := range d.fields {
		if f == field {
			d.fields = append(d.fields[:i], d.fields[i+1:]...)
			break
		}
	}
}

// Fields returns the field names in insertion order.
func (d *Document) Fields() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.fields))
	copy(out, d.fields)
	return out
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Equal reports whether both documents hold equal values for the same
// fields. Field order is not significant.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	for _, f := range d.Fields() {
		a, _ := d.Get(f)
		b, ok := o.Get(f)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := NewDocument()
	for _, f := range d.Fields() {
		v, _ := d.Get(f)
		out.Set(f, cloneValue(v))
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.kind {
	case BytesKind:
		return Bytes(append([]byte(nil), v.bs...))
	case ListKind:
		out := make([]Value, len(v.list))
		for i, e := range v.list {
			out[i] = cloneValue(e)
		}
		return List(out...)
	case MapKind:
		return Map(v.m.Clone())
	}
	return v
}

// Map converts the document to a plain Go map.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, d.Len())
	for _, f := range d.Fields() {
		v, _ := d.Get(f)
		out[f] = v.Interface()
	}
	return out
}

// FromGo builds a Document from a struct or map, honoring dynamodbav
// struct tags.
func FromGo(in any) (*Document, error) {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	doc := NewDocument()
	if err := DecodeItem(item, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Decode copies the document into out, a pointer to a struct or map.
func (d *Document) Decode(out any) error {
	item, err := EncodeItem(d)
	if err != nil {
		return err
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}
