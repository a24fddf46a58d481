package store

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key names the key attributes of a table or index. It is a schema
// descriptor, not a value.
type Key struct {
	PartitionKey string
	SortKey      string
}

// names returns the non-empty key attribute names.
func (k Key) names() []string {
	if k.SortKey == "" {
		return []string{k.PartitionKey}
	}
	return []string{k.PartitionKey, k.SortKey}
}

// indexDescription is the planner's view of a secondary index.
type indexDescription struct {
	Name          string
	Key           Key
	Local         bool
	ProjectionAll bool
	// Projected holds explicitly projected non-key attributes (INCLUDE).
	Projected map[string]bool
}

// Index describes a secondary index of the table.
type Index struct {
	Name  string
	Key   Key
	Local bool

	// Projection is ALL, INCLUDE or KEYS_ONLY.
	Projection types.ProjectionType

	// NonKeyAttributes lists the attributes projected by INCLUDE, sorted.
	NonKeyAttributes []string
}

func (idx *indexDescription) public() Index {
	out := Index{Name: idx.Name, Key: idx.Key, Local: idx.Local, Projection: types.ProjectionTypeKeysOnly}
	switch {
	case idx.ProjectionAll:
		out.Projection = types.ProjectionTypeAll
	case len(idx.Projected) > 0:
		out.Projection = types.ProjectionTypeInclude
		for a := range idx.Projected {
			out.NonKeyAttributes = append(out.NonKeyAttributes, a)
		}
		sort.Strings(out.NonKeyAttributes)
	}
	return out
}

// tableDescription is the schema of the table and its indexes, in the
// order DynamoDB lists them.
type tableDescription struct {
	Name   string
	Key    Key
	Local  []indexDescription
	Global []indexDescription
}

func describeTable(td *types.TableDescription) *tableDescription {
	desc := &tableDescription{
		Name: aws.ToString(td.TableName),
		Key:  keyFromSchema(td.KeySchema),
	}
	for _, li := range td.LocalSecondaryIndexes {
		desc.Local = append(desc.Local, newIndexDescription(aws.ToString(li.IndexName), li.KeySchema, li.Projection, true))
	}
	for _, gi := range td.GlobalSecondaryIndexes {
		desc.Global = append(desc.Global, newIndexDescription(aws.ToString(gi.IndexName), gi.KeySchema, gi.Projection, false))
	}
	return desc
}

func newIndexDescription(name string, ks []types.KeySchemaElement, p *types.Projection, local bool) indexDescription {
	idx := indexDescription{
		Name:      name,
		Key:       keyFromSchema(ks),
		Local:     local,
		Projected: map[string]bool{},
	}
	if p == nil {
		return idx
	}
	idx.ProjectionAll = p.ProjectionType == types.ProjectionTypeAll
	for _, a := range p.NonKeyAttributes {
		idx.Projected[a] = true
	}
	return idx
}

func keyFromSchema(ks []types.KeySchemaElement) Key {
	var k Key
	for _, e := range ks {
		switch e.KeyType {
		case types.KeyTypeHash:
			k.PartitionKey = aws.ToString(e.AttributeName)
		case types.KeyTypeRange:
			k.SortKey = aws.ToString(e.AttributeName)
		}
	}
	return k
}
