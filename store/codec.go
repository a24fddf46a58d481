package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EncodeItem converts a document to a DynamoDB item.
func EncodeItem(doc *Document) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, doc.Len())
	for _, f := range doc.Fields() {
		v, _ := doc.Get(f)
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f, err)
		}
		item[f] = av
	}
	return item, nil
}

// DecodeItem sets every attribute of item on doc. Fields of doc that are
// absent from item are left untouched.
func DecodeItem(item map[string]types.AttributeValue, doc *Document) error {
	for _, name := range sortedNames(item) {
		v, err := decodeValue(item[name])
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		doc.Set(name, v)
	}
	return nil
}

// EncodeKeyFields returns the key attributes of doc, or nil if the
// partition key (or the sort key, when one is configured) is missing.
func EncodeKeyFields(doc *Document, partitionKey, sortKey string) (map[string]types.AttributeValue, error) {
	pv, ok := doc.Get(partitionKey)
	if !ok || pv.isEmpty() {
		return nil, nil
	}
	pav, err := encodeValue(pv)
	if err != nil {
		return nil, err
	}
	key := map[string]types.AttributeValue{partitionKey: pav}
	if sortKey != "" {
		sv, ok := doc.Get(sortKey)
		if !ok || sv.IsNull() {
			return nil, nil
		}
		sav, err := encodeValue(sv)
		if err != nil {
			return nil, err
		}
		key[sortKey] = sav
	}
	return key, nil
}

func encodeValue(v Value) (types.AttributeValue, error) {
	switch v.kind {
	case NullKind:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case StringKind:
		return &types.AttributeValueMemberS{Value: v.s}, nil
	case IntKind:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v.i, 10)}, nil
	case FloatKind:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v.f, 'g', -1, 64)}, nil
	case BoolKind:
		return &types.AttributeValueMemberBOOL{Value: v.b}, nil
	case BytesKind:
		return &types.AttributeValueMemberB{Value: v.bs}, nil
	case ListKind:
		out := make([]types.AttributeValue, len(v.list))
		for i, e := range v.list {
			av, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = av
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case MapKind:
		m, err := EncodeItem(v.m)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, fmt.Errorf("unsupported value kind %v", v.kind)
}

func decodeValue(av types.AttributeValue) (Value, error) {
	switch a := av.(type) {
	case *types.AttributeValueMemberNULL:
		return Null(), nil
	case *types.AttributeValueMemberS:
		return String(a.Value), nil
	case *types.AttributeValueMemberN:
		return decodeNumber(a.Value)
	case *types.AttributeValueMemberBOOL:
		return Bool(a.Value), nil
	case *types.AttributeValueMemberB:
		return Bytes(a.Value), nil
	case *types.AttributeValueMemberL:
		out := make([]Value, len(a.Value))
		for i, e := range a.Value {
			v, err := decodeValue(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return List(out...), nil
	case *types.AttributeValueMemberM:
		doc := NewDocument()
		if err := DecodeItem(a.Value, doc); err != nil {
			return Value{}, err
		}
		return Map(doc), nil
	case *types.AttributeValueMemberSS:
		out := make([]Value, len(a.Value))
		for i, s := range a.Value {
			out[i] = String(s)
		}
		return List(out...), nil
	case *types.AttributeValueMemberNS:
		out := make([]Value, len(a.Value))
		for i, s := range a.Value {
			v, err := decodeNumber(s)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return List(out...), nil
	case *types.AttributeValueMemberBS:
		out := make([]Value, len(a.Value))
		for i, b := range a.Value {
			out[i] = Bytes(b)
		}
		return List(out...), nil
	}
	return Value{}, fmt.Errorf("unsupported attribute type %T", av)
}

func decodeNumber(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// sortedNames returns item's attribute names in lexical order so decoded
// documents have a deterministic field order.
func sortedNames(item map[string]types.AttributeValue) []string {
	names := make([]string, 0, len(item))
	for k := range item {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
