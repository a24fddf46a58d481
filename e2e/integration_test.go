//go:build e2e

// Package e2e contains end-to-end integration tests against a real DynamoDB
// endpoint.
//
// Run against DynamoDB Local with:
//
//	DOCSTORE_E2E_ENDPOINT=http://localhost:8000 go test -tags=e2e -v ./e2e/...
//
// Without an endpoint the tests use the default AWS credential chain, or the
// profile named by DOCSTORE_E2E_PROFILE.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/internal/config"
	"github.com/jacentio/docstore/store"
)

const tablePrefix = "docstore-e2e-test"

var (
	ordersTable string

	ddbClient *dynamodb.Client
	testStore *store.Store
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	ordersTable = fmt.Sprintf("%s-%s-orders", tablePrefix, uuid.New().String()[:8])
	fmt.Printf("Table: %s\n", ordersTable)

	ctx := context.Background()
	awsCfg := config.AWSConfig{
		Region:   envOr("DOCSTORE_E2E_REGION", "us-east-1"),
		Endpoint: os.Getenv("DOCSTORE_E2E_ENDPOINT"),
		Profile:  os.Getenv("DOCSTORE_E2E_PROFILE"),
	}
	if awsCfg.Endpoint != "" {
		awsCfg.AccessKeyID, awsCfg.SecretAccessKey = "local", "local"
	}

	var err error
	ddbClient, err = config.NewClient(ctx, awsCfg)
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}

	if err := createTable(ctx); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	cfg := store.DefaultConfig()
	cfg.AllowScans = true
	cfg.Logger = zap.NewExample()
	testStore, err = store.Open(ctx, ddbClient, ordersTable, cfg)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		_ = deleteTable(ctx)
		os.Exit(1)
	}

	code := m.Run()

	_ = testStore.Close()
	if err := deleteTable(ctx); err != nil {
		fmt.Printf("Failed to delete table: %v\n", err)
	}
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func createTable(ctx context.Context) error {
	s := types.ScalarAttributeTypeS
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(ordersTable),
		KeySchema: keySchema("customer", "orderID"),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("customer"), AttributeType: s},
			{AttributeName: aws.String("orderID"), AttributeType: s},
			{AttributeName: aws.String("date"), AttributeType: s},
			{AttributeName: aws.String("status"), AttributeType: s},
		},
		LocalSecondaryIndexes: []types.LocalSecondaryIndex{{
			IndexName:  aws.String("by-date"),
			KeySchema:  keySchema("customer", "date"),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName:  aws.String("by-status"),
			KeySchema:  keySchema("status", "date"),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", ordersTable, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(ordersTable)}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", ordersTable, err)
	}
	return nil
}

func deleteTable(ctx context.Context) error {
	_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(ordersTable)})
	return err
}

func keySchema(pk, sk string) []types.KeySchemaElement {
	return []types.KeySchemaElement{
		{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
		{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
	}
}

func order(customer, id, status, date string, total int64) *store.Document {
	return store.NewDocument().
		Set("customer", store.String(customer)).
		Set("orderID", store.String(id)).
		Set("status", store.String(status)).
		Set("date", store.String(date)).
		Set("total", store.Int(total))
}

func isKind(err error, kind store.ErrorKind) bool {
	var serr *store.Error
	return errors.As(err, &serr) && serr.Kind == kind
}

func drain(t *testing.T, it *store.DocumentIterator) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for {
		doc := store.NewDocument()
		err := it.Next(ctx, doc)
		if errors.Is(err, io.EOF) {
			return ids
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		v, _ := doc.Get("orderID")
		id, _ := v.AsString()
		ids = append(ids, id)
	}
}

// --- CRUD Tests ---

func TestCreateReplaceDelete(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New().String()

	doc := order(customer, "o1", "open", "2024-01-01", 10)
	if err := testStore.Create(ctx, doc); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	rev1, _ := doc.Get(store.DefaultRevisionField)
	if rev1.IsNull() {
		t.Fatal("expected revision to be written back")
	}

	if err := testStore.Create(ctx, order(customer, "o1", "open", "2024-01-01", 10)); !isKind(err, store.AlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}

	doc.Set("total", store.Int(20))
	if err := testStore.Replace(ctx, doc); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	stale := order(customer, "o1", "open", "2024-01-01", 30).Set(store.DefaultRevisionField, rev1)
	if err := testStore.Put(ctx, stale); !isKind(err, store.NotFound) {
		t.Errorf("expected NotFound for a stale revision, got %v", err)
	}

	got := store.NewDocument().Set("customer", store.String(customer)).Set("orderID", store.String("o1"))
	if err := testStore.Get(ctx, got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if total, _ := got.Get("total"); !total.Equal(store.Int(20)) {
		t.Errorf("expected total 20, got %v", total)
	}

	if err := testStore.Delete(ctx, got); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := testStore.Get(ctx, got); !isKind(err, store.NotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New().String()

	if err := testStore.Create(ctx, order(customer, "o1", "open", "2024-01-01", 10)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	key := store.NewDocument().Set("customer", store.String(customer)).Set("orderID", store.String("o1"))
	err := testStore.Update(ctx, key,
		store.Mod{FieldPath: "total", Value: store.Int(5), Op: store.ModIncrement},
		store.Mod{FieldPath: "status", Value: store.String("paid")},
	)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got := key.Clone()
	if err := testStore.Get(ctx, got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if total, _ := got.Get("total"); !total.Equal(store.Int(15)) {
		t.Errorf("expected total 15, got %v", total)
	}
	if status, _ := got.Get("status"); !status.Equal(store.String("paid")) {
		t.Errorf("expected status paid, got %v", status)
	}
}

// --- RunActions Tests ---

func TestRunActions_AtomicGroup(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New().String()

	if err := testStore.Create(ctx, order(customer, "o1", "open", "2024-01-01", 10)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	actions := []*store.Action{
		{Kind: store.Create, Doc: order(customer, "o2", "open", "2024-01-02", 20), InAtomicWrite: true},
		{Kind: store.Create, Doc: order(customer, "o1", "open", "2024-01-01", 10), InAtomicWrite: true},
		{Kind: store.Create, Doc: order(customer, "o3", "open", "2024-01-03", 30)},
	}
	err := testStore.RunActions(ctx, actions, nil)
	if !isKind(err, store.TransactionFailed) {
		t.Fatalf("expected TransactionFailed, got %v", err)
	}

	for id, want := range map[string]bool{"o2": false, "o3": true} {
		doc := store.NewDocument().Set("customer", store.String(customer)).Set("orderID", store.String(id))
		err := testStore.Get(ctx, doc)
		if want && err != nil {
			t.Errorf("expected %s to exist, got %v", id, err)
		}
		if !want && !isKind(err, store.NotFound) {
			t.Errorf("expected %s to be rolled back, got %v", id, err)
		}
	}
}

func TestRunActions_Gets(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New().String()

	var actions []*store.Action
	for i := 0; i < 30; i++ {
		actions = append(actions, &store.Action{
			Kind: store.Put,
			Doc:  order(customer, fmt.Sprintf("o%02d", i), "open", "2024-01-01", int64(i)),
		})
	}
	if err := testStore.RunActions(ctx, actions, nil); err != nil {
		t.Fatalf("RunActions failed: %v", err)
	}

	var gets []*store.Action
	for i := 0; i < 30; i++ {
		gets = append(gets, &store.Action{
			Kind:       store.Get,
			Doc:        store.NewDocument().Set("customer", store.String(customer)).Set("orderID", store.String(fmt.Sprintf("o%02d", i))),
			FieldPaths: []string{"total"},
		})
	}
	if err := testStore.RunActions(ctx, gets, nil); err != nil {
		t.Fatalf("RunActions failed: %v", err)
	}
	for i, a := range gets {
		if total, _ := a.Doc.Get("total"); !total.Equal(store.Int(int64(i))) {
			t.Errorf("expected total %d for get %d, got %v", i, i, total)
		}
	}
}

// --- Query Tests ---

func TestQuery_LocalIndexPagination(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New().String()

	for i := 1; i <= 5; i++ {
		doc := order(customer, fmt.Sprintf("o%d", i), "open", fmt.Sprintf("2024-01-%02d", 10-i), int64(i))
		if err := testStore.Create(ctx, doc); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	q := &store.Query{
		Filters:        []store.Filter{{FieldPath: "customer", Op: store.OpEqual, Value: store.String(customer)}},
		OrderByField:   "date",
		OrderAscending: true,
		Limit:          2,
	}
	var ids []string
	for page := 0; page < 4; page++ {
		it, err := testStore.RunGetQuery(ctx, q, nil)
		if err != nil {
			t.Fatalf("RunGetQuery failed: %v", err)
		}
		if it.Plan() != "Index by-date" {
			t.Errorf("expected plan Index by-date, got %s", it.Plan())
		}
		ids = append(ids, drain(t, it)...)
		token, err := it.PaginationToken()
		if err != nil {
			t.Fatalf("PaginationToken failed: %v", err)
		}
		it.Stop()
		if token == "" {
			break
		}
		q.PaginationToken = token
	}

	want := []string{"o5", "o4", "o3", "o2", "o1"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
}

func TestQuery_GlobalIndexAndScan(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New().String()
	status := "held-" + customer

	for i := 1; i <= 3; i++ {
		doc := order(customer, fmt.Sprintf("o%d", i), status, fmt.Sprintf("2024-02-%02d", i), int64(i*100))
		if err := testStore.Create(ctx, doc); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	byStatus := &store.Query{
		Filters:        []store.Filter{{FieldPath: "status", Op: store.OpEqual, Value: store.String(status)}},
		OrderByField:   "date",
		OrderAscending: false,
	}
	it, err := testStore.RunGetQuery(ctx, byStatus, nil)
	if err != nil {
		t.Fatalf("RunGetQuery failed: %v", err)
	}
	defer it.Stop()
	if it.Plan() != "Index by-status" {
		t.Errorf("expected plan Index by-status, got %s", it.Plan())
	}
	if ids := drain(t, it); fmt.Sprint(ids) != "[o3 o2 o1]" {
		t.Errorf("expected [o3 o2 o1], got %v", ids)
	}

	scan := &store.Query{
		Filters: []store.Filter{
			{FieldPath: "total", Op: store.OpGreaterEqual, Value: store.Int(200)},
			{FieldPath: "status", Op: store.OpIn, Value: store.List(store.String(status))},
		},
	}
	plan, err := testStore.QueryPlan(scan)
	if err != nil {
		t.Fatalf("QueryPlan failed: %v", err)
	}
	if plan != "Scan" {
		t.Errorf("expected plan Scan, got %s", plan)
	}
	sit, err := testStore.RunGetQuery(ctx, scan, nil)
	if err != nil {
		t.Fatalf("RunGetQuery failed: %v", err)
	}
	defer sit.Stop()
	if ids := drain(t, sit); len(ids) != 2 {
		t.Errorf("expected 2 scanned orders, got %v", ids)
	}
}
