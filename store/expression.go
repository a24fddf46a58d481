package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// exprBuilder allocates expression attribute name aliases and value
// placeholders with monotonically increasing suffixes, so fragments built
// for the same request never collide.
type exprBuilder struct {
	names    map[string]string
	values   map[string]types.AttributeValue
	aliases  map[string]string
	nextName int
	nextVal  int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:   map[string]string{},
		values:  map[string]types.AttributeValue{},
		aliases: map[string]string{},
	}
}

// name returns the alias for a dot-separated field path, e.g. "#attr0.#attr1".
func (b *exprBuilder) name(fieldPath string) string {
	segs := strings.Split(fieldPath, ".")
	for i, seg := range segs {
		alias, ok := b.aliases[seg]
		if !ok {
			alias = fmt.Sprintf("#attr%d", b.nextName)
			b.nextName++
			b.aliases[seg] = alias
			b.names[alias] = seg
		}
		segs[i] = alias
	}
	return strings.Join(segs, ".")
}

// value returns a fresh placeholder bound to v.
func (b *exprBuilder) value(v Value) (string, error) {
	av, err := encodeValue(v)
	if err != nil {
		return "", err
	}
	ph := fmt.Sprintf(":val%d", b.nextVal)
	b.nextVal++
	b.values[ph] = av
	return ph, nil
}

// condition renders a filter.
func (b *exprBuilder) condition(f Filter) (string, error) {
	name := b.name(f.FieldPath)
	switch f.Op {
	case OpIn, OpNotIn:
		vs, _ := f.Value.AsList()
		phs := make([]string, len(vs))
		for i, v := range vs {
			ph, err := b.value(v)
			if err != nil {
				return "", err
			}
			phs[i] = ph
		}
		expr := fmt.Sprintf("%s IN (%s)", name, strings.Join(phs, ", "))
		if f.Op == OpNotIn {
			expr = fmt.Sprintf("NOT (%s)", expr)
		}
		return expr, nil
	default:
		ph, err := b.value(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", name, f.Op, ph), nil
	}
}

// conjunction renders filters joined with AND.
func (b *exprBuilder) conjunction(filters []Filter) (string, error) {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		c, err := b.condition(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, " AND "), nil
}

// projection renders a projection expression for fieldPaths.
func (b *exprBuilder) projection(fieldPaths []string) string {
	parts := make([]string, len(fieldPaths))
	for i, fp := range fieldPaths {
		parts[i] = b.name(fp)
	}
	return strings.Join(parts, ", ")
}

// attrNames returns the name map, or nil if empty (DynamoDB rejects empty maps).
func (b *exprBuilder) attrNames() map[string]string {
	if len(b.names) == 0 {
		return nil
	}
	return b.names
}

// attrValues returns the value map, or nil if empty.
func (b *exprBuilder) attrValues() map[string]types.AttributeValue {
	if len(b.values) == 0 {
		return nil
	}
	return b.values
}

// optionalString returns nil for an empty expression.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
