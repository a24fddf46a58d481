package store

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/internal/dynamotest"
)

// pkOnlyTable has a partition key and nothing else.
func pkOnlyTable() *types.TableDescription {
	return dynamotest.Description("things", "pk", "")
}

// ordersTable has a composite key, two local and three global indexes.
//
//	table        customer / orderID
//	by-date      customer / date    (LSI, ALL)
//	by-total     customer / total   (LSI, INCLUDE status)
//	by-status    status / date      (GSI, INCLUDE total)
//	by-status-2  status / date      (GSI, ALL)
//	by-region    region             (GSI, ALL)
func ordersTable() *types.TableDescription {
	td := dynamotest.Description("orders", "customer", "orderID")
	td.LocalSecondaryIndexes = []types.LocalSecondaryIndexDescription{
		{IndexName: aws.String("by-date"), KeySchema: dynamotest.KeySchema("customer", "date"), Projection: dynamotest.ProjectAll()},
		{IndexName: aws.String("by-total"), KeySchema: dynamotest.KeySchema("customer", "total"), Projection: dynamotest.ProjectInclude("status")},
	}
	td.GlobalSecondaryIndexes = []types.GlobalSecondaryIndexDescription{
		{IndexName: aws.String("by-status"), KeySchema: dynamotest.KeySchema("status", "date"), Projection: dynamotest.ProjectInclude("total")},
		{IndexName: aws.String("by-status-2"), KeySchema: dynamotest.KeySchema("status", "date"), Projection: dynamotest.ProjectAll()},
		{IndexName: aws.String("by-region"), KeySchema: dynamotest.KeySchema("region", ""), Projection: dynamotest.ProjectAll()},
	}
	return td
}

func newTestStore(t *testing.T, td *types.TableDescription, opts ...func(*Config)) (*Store, *dynamotest.Table) {
	t.Helper()
	tbl := dynamotest.New(td)
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	s, err := NewWithDescription(tbl, td, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, tbl
}

func allowScans(c *Config) { c.AllowScans = true }

func eq(field string, v Value) Filter { return Filter{FieldPath: field, Op: OpEqual, Value: v} }

func filter(field, op string, v Value) Filter { return Filter{FieldPath: field, Op: op, Value: v} }
