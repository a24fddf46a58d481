// Package dynamotest provides an in-memory DynamoDB table for tests.
//
// Table understands the subset of the expression language the store emits:
// conjunctions of comparisons, IN lists, NOT, attribute_exists and
// attribute_not_exists, and SET / REMOVE / ADD update clauses. Pages are
// cut after PageSize evaluated items so pagination can be exercised with
// small data sets.
package dynamotest

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

type item = map[string]types.AttributeValue

// Table is an in-memory DynamoDB table. It implements store.Client.
type Table struct {
	// PageSize caps the items evaluated per Query or Scan call. Zero means
	// unlimited.
	PageSize int

	// BatchGetLimit caps the keys processed per BatchGetItem call; the rest
	// are returned as unprocessed. Zero means unlimited.
	BatchGetLimit int

	// Hook, when set, is called with the operation name and input before
	// every request. A non-nil error fails the request.
	Hook func(op string, input any) error

	mu     sync.Mutex
	desc   *types.TableDescription
	items  map[string]item
	tokens map[string]bool
	calls  map[string]int
}

// New returns an empty table described by desc.
func New(desc *types.TableDescription) *Table {
	return &Table{
		desc:   desc,
		items:  map[string]item{},
		tokens: map[string]bool{},
		calls:  map[string]int{},
	}
}

// Description builds a table description with the given key schema. An
// empty sortKey means the table has only a partition key.
func Description(table, partitionKey, sortKey string) *types.TableDescription {
	return &types.TableDescription{
		TableName: aws.String(table),
		KeySchema: KeySchema(partitionKey, sortKey),
	}
}

// KeySchema builds a key schema.
func KeySchema(partitionKey, sortKey string) []types.KeySchemaElement {
	ks := []types.KeySchemaElement{{AttributeName: aws.String(partitionKey), KeyType: types.KeyTypeHash}}
	if sortKey != "" {
		ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange})
	}
	return ks
}

// ProjectAll projects every attribute.
func ProjectAll() *types.Projection {
	return &types.Projection{ProjectionType: types.ProjectionTypeAll}
}

// ProjectInclude projects the keys plus attrs.
func ProjectInclude(attrs ...string) *types.Projection {
	if len(attrs) == 0 {
		return &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly}
	}
	return &types.Projection{ProjectionType: types.ProjectionTypeInclude, NonKeyAttributes: attrs}
}

// Calls returns how many times op was requested.
func (t *Table) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// Len returns the number of stored items.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Item returns the stored item with the given key, or nil.
func (t *Table) Item(key map[string]types.AttributeValue) map[string]types.AttributeValue {
	t.mu.Lock()
	defer t.mu.Unlock()
	ks, err := t.keyString(key)
	if err != nil {
		return nil
	}
	return t.items[ks]
}

// Seed stores items unconditionally.
func (t *Table) Seed(items ...map[string]types.AttributeValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range items {
		ks, err := t.keyString(it)
		if err != nil {
			return err
		}
		t.items[ks] = clone(it)
	}
	return nil
}

func (t *Table) begin(op string, input any) error {
	t.calls[op]++
	if t.Hook != nil {
		return t.Hook(op, input)
	}
	return nil
}

// DescribeTable implements store.Client.
func (t *Table) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("DescribeTable", in); err != nil {
		return nil, err
	}
	if aws.ToString(in.TableName) != aws.ToString(t.desc.TableName) {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(in.TableName))}
	}
	return &dynamodb.DescribeTableOutput{Table: t.desc}, nil
}

// PutItem implements store.Client.
func (t *Table) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("PutItem", in); err != nil {
		return nil, err
	}
	if err := t.checkTable(in.TableName); err != nil {
		return nil, err
	}
	ks, err := t.keyString(in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := t.check(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[ks])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[ks] = clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem implements store.Client.
func (t *Table) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("DeleteItem", in); err != nil {
		return nil, err
	}
	if err := t.checkTable(in.TableName); err != nil {
		return nil, err
	}
	ks, err := t.keyString(in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := t.check(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[ks])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(t.items, ks)
	return &dynamodb.DeleteItemOutput{}, nil
}

// UpdateItem implements store.Client.
func (t *Table) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("UpdateItem", in); err != nil {
		return nil, err
	}
	if err := t.checkTable(in.TableName); err != nil {
		return nil, err
	}
	ks, err := t.keyString(in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := t.check(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[ks])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	updated, err := applyUpdate(t.items[ks], in.Key, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[ks] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

// TransactWriteItems implements store.Client. A repeated client request
// token succeeds without applying the writes again.
func (t *Table) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("TransactWriteItems", in); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, validation("transaction has more than 100 items")
	}
	if tok := aws.ToString(in.ClientRequestToken); tok != "" && t.tokens[tok] {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}

	type write struct {
		ks    string
		apply func() error
	}
	var (
		writes  []write
		reasons = make([]types.CancellationReason, len(in.TransactItems))
		failed  bool
		seen    = map[string]bool{}
	)
	for i, ti := range in.TransactItems {
		var (
			table    *string
			key      item
			cond     *string
			names    map[string]string
			values   map[string]types.AttributeValue
			apply    func(ks string) error
			describe string
		)
		switch {
		case ti.Put != nil:
			p := ti.Put
			table, key, cond, names, values = p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues
			apply = func(ks string) error { t.items[ks] = clone(p.Item); return nil }
			describe = "Put"
		case ti.Delete != nil:
			d := ti.Delete
			table, key, cond, names, values = d.TableName, d.Key, d.ConditionExpression, d.ExpressionAttributeNames, d.ExpressionAttributeValues
			apply = func(ks string) error { delete(t.items, ks); return nil }
			describe = "Delete"
		case ti.Update != nil:
			u := ti.Update
			table, key, cond, names, values = u.TableName, u.Key, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues
			apply = func(ks string) error {
				updated, err := applyUpdate(t.items[ks], u.Key, aws.ToString(u.UpdateExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
				if err != nil {
					return err
				}
				t.items[ks] = updated
				return nil
			}
			describe = "Update"
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			table, key, cond, names, values = c.TableName, c.Key, c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues
			apply = func(string) error { return nil }
			describe = "ConditionCheck"
		default:
			return nil, validation(fmt.Sprintf("transaction item %d is empty", i))
		}
		if err := t.checkTable(table); err != nil {
			return nil, err
		}
		ks, err := t.keyString(key)
		if err != nil {
			return nil, err
		}
		if seen[ks] {
			return nil, validation("transaction request cannot include multiple operations on one item")
		}
		seen[ks] = true
		ok, err := t.check(cond, names, values, t.items[ks])
		if err != nil {
			return nil, err
		}
		reasons[i].Code = aws.String("None")
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			reasons[i].Message = aws.String(describe + " condition failed")
			failed = true
		}
		writes = append(writes, write{ks: ks, apply: func() error { return apply(ks) }})
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if err := w.apply(); err != nil {
			return nil, err
		}
	}
	if tok := aws.ToString(in.ClientRequestToken); tok != "" {
		t.tokens[tok] = true
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// BatchGetItem implements store.Client.
func (t *Table) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("BatchGetItem", in); err != nil {
		return nil, err
	}
	name := aws.ToString(t.desc.TableName)
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]item{}}
	for table, ka := range in.RequestItems {
		if table != name {
			return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + table)}
		}
		if len(ka.Keys) > 100 {
			return nil, validation("too many items requested for the BatchGetItem call")
		}
		seen := map[string]bool{}
		keys := ka.Keys
		if t.BatchGetLimit > 0 && len(keys) > t.BatchGetLimit {
			rest := ka
			rest.Keys = keys[t.BatchGetLimit:]
			out.UnprocessedKeys = map[string]types.KeysAndAttributes{table: rest}
			keys = keys[:t.BatchGetLimit]
		}
		for _, k := range ka.Keys {
			ks, err := t.keyString(k)
			if err != nil {
				return nil, err
			}
			if seen[ks] {
				return nil, validation("provided list of item keys contains duplicates")
			}
			seen[ks] = true
		}
		for _, k := range keys {
			ks, _ := t.keyString(k)
			if it, ok := t.items[ks]; ok {
				out.Responses[table] = append(out.Responses[table], project(it, aws.ToString(ka.ProjectionExpression), ka.ExpressionAttributeNames))
			}
		}
	}
	return out, nil
}

// Query implements store.Client.
func (t *Table) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("Query", in); err != nil {
		return nil, err
	}
	if err := t.checkTable(in.TableName); err != nil {
		return nil, err
	}
	if aws.ToString(in.KeyConditionExpression) == "" {
		return nil, validation("query requires a key condition expression")
	}
	ik, proj, err := t.index(aws.ToString(in.IndexName))
	if err != nil {
		return nil, err
	}
	if aws.ToBool(in.ConsistentRead) && ik.global {
		return nil, validation("consistent reads are not supported on global secondary indexes")
	}

	var candidates []item
	for _, it := range t.items {
		if !hasAttrs(it, ik.pk, ik.sk) {
			continue
		}
		ok, err := eval(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, it)
		}
	}
	order := append([]string{ik.sk}, t.tableKey()...)
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	items, last, err := t.page(candidates, order, forward, in.ExclusiveStartKey, aws.ToInt32(in.Limit),
		aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.QueryOutput{}
	for _, it := range items {
		it = projectIndex(it, ik, proj, t.tableKey())
		out.Items = append(out.Items, project(it, aws.ToString(in.ProjectionExpression), in.ExpressionAttributeNames))
	}
	out.Count = int32(len(out.Items))
	if last != nil {
		out.LastEvaluatedKey = keyOf(last, append(t.tableKey(), ik.pk, ik.sk))
	}
	return out, nil
}

// Scan implements store.Client.
func (t *Table) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("Scan", in); err != nil {
		return nil, err
	}
	if err := t.checkTable(in.TableName); err != nil {
		return nil, err
	}
	candidates := make([]item, 0, len(t.items))
	for _, it := range t.items {
		candidates = append(candidates, it)
	}
	items, last, err := t.page(candidates, t.tableKey(), true, in.ExclusiveStartKey, aws.ToInt32(in.Limit),
		aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.ScanOutput{}
	for _, it := range items {
		out.Items = append(out.Items, project(it, aws.ToString(in.ProjectionExpression), in.ExpressionAttributeNames))
	}
	out.Count = int32(len(out.Items))
	if last != nil {
		out.LastEvaluatedKey = keyOf(last, t.tableKey())
	}
	return out, nil
}

// page orders candidates by the order attributes, skips past the
// exclusive start key, evaluates up to one page and filters it. It returns
// the last evaluated item when more candidates remain.
func (t *Table) page(candidates []item, order []string, forward bool, start item, limit int32,
	filter string, names map[string]string, values map[string]types.AttributeValue) ([]item, item, error) {
	sort.SliceStable(candidates, func(i, j int) bool {
		c := compareTuple(candidates[i], candidates[j], order)
		if forward {
			return c < 0
		}
		return c > 0
	})
	if start != nil {
		i := 0
		for ; i < len(candidates); i++ {
			c := compareTuple(candidates[i], start, order)
			if (forward && c > 0) || (!forward && c < 0) {
				break
			}
		}
		candidates = candidates[i:]
	}

	n := len(candidates)
	if t.PageSize > 0 && n > t.PageSize {
		n = t.PageSize
	}
	if limit > 0 && int(limit) < n {
		n = int(limit)
	}
	evaluated := candidates[:n]

	var out []item
	for _, it := range evaluated {
		ok, err := eval(filter, names, values, it)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	var last item
	if n < len(candidates) && n > 0 {
		last = evaluated[n-1]
	}
	return out, last, nil
}

type indexKey struct {
	pk, sk string
	global bool
}

func (t *Table) tableKey() []string {
	pk, sk := keyNames(t.desc.KeySchema)
	if sk == "" {
		return []string{pk}
	}
	return []string{pk, sk}
}

func (t *Table) index(name string) (indexKey, *types.Projection, error) {
	if name == "" {
		pk, sk := keyNames(t.desc.KeySchema)
		return indexKey{pk: pk, sk: sk}, ProjectAll(), nil
	}
	for _, li := range t.desc.LocalSecondaryIndexes {
		if aws.ToString(li.IndexName) == name {
			pk, sk := keyNames(li.KeySchema)
			return indexKey{pk: pk, sk: sk}, li.Projection, nil
		}
	}
	for _, gi := range t.desc.GlobalSecondaryIndexes {
		if aws.ToString(gi.IndexName) == name {
			pk, sk := keyNames(gi.KeySchema)
			return indexKey{pk: pk, sk: sk, global: true}, gi.Projection, nil
		}
	}
	return indexKey{}, nil, validation("the table does not have the specified index: " + name)
}

func keyNames(ks []types.KeySchemaElement) (pk, sk string) {
	for _, e := range ks {
		switch e.KeyType {
		case types.KeyTypeHash:
			pk = aws.ToString(e.AttributeName)
		case types.KeyTypeRange:
			sk = aws.ToString(e.AttributeName)
		}
	}
	return pk, sk
}

func (t *Table) checkTable(name *string) error {
	if aws.ToString(name) != aws.ToString(t.desc.TableName) {
		return &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return nil
}

// keyString identifies an item by its table key.
func (t *Table) keyString(it item) (string, error) {
	var parts []string
	for _, n := range t.tableKey() {
		av, ok := it[n]
		if !ok {
			return "", validation("the provided key element does not match the schema: missing " + n)
		}
		s, err := scalarString(av)
		if err != nil {
			return "", validation(fmt.Sprintf("key attribute %s: %v", n, err))
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|"), nil
}

func scalarString(av types.AttributeValue) (string, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value, nil
	case *types.AttributeValueMemberN:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return "", err
		}
		return "N:" + strconv.FormatFloat(f, 'g', -1, 64), nil
	case *types.AttributeValueMemberB:
		return "B:" + hex.EncodeToString(v.Value), nil
	}
	return "", fmt.Errorf("unsupported key type %T", av)
}

func (t *Table) check(cond *string, names map[string]string, values map[string]types.AttributeValue, existing item) (bool, error) {
	return eval(aws.ToString(cond), names, values, existing)
}

// eval evaluates a conjunction against it. A nil item has no attributes.
func eval(expr string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	for _, term := range strings.Split(expr, " AND ") {
		ok, err := evalTerm(strings.TrimSpace(term), names, values, it)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalTerm(term string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	switch {
	case strings.HasPrefix(term, "attribute_exists(") && strings.HasSuffix(term, ")"):
		_, ok := resolve(it, strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")"), names)
		return ok, nil
	case strings.HasPrefix(term, "attribute_not_exists(") && strings.HasSuffix(term, ")"):
		_, ok := resolve(it, strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")"), names)
		return !ok, nil
	case strings.HasPrefix(term, "NOT (") && strings.HasSuffix(term, ")"):
		ok, err := evalTerm(term[len("NOT ("):len(term)-1], names, values, it)
		return !ok, err
	case strings.Contains(term, " IN ("):
		i := strings.Index(term, " IN (")
		path := term[:i]
		list := strings.TrimSuffix(term[i+len(" IN ("):], ")")
		av, ok := resolve(it, path, names)
		if !ok {
			return false, nil
		}
		for _, ph := range strings.Split(list, ", ") {
			v, ok := values[ph]
			if !ok {
				return false, validation("undefined value placeholder " + ph)
			}
			if c, ok := compare(av, v); ok && c == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	fields := strings.Fields(term)
	if len(fields) != 3 {
		return false, validation("unsupported expression term: " + term)
	}
	av, ok := resolve(it, fields[0], names)
	if !ok {
		return false, nil
	}
	v, ok := values[fields[2]]
	if !ok {
		return false, validation("undefined value placeholder " + fields[2])
	}
	c, ok := compare(av, v)
	switch fields[1] {
	case "=":
		return ok && c == 0, nil
	case "<>":
		return !ok || c != 0, nil
	case "<":
		return ok && c < 0, nil
	case "<=":
		return ok && c <= 0, nil
	case ">":
		return ok && c > 0, nil
	case ">=":
		return ok && c >= 0, nil
	}
	return false, validation("unsupported operator " + fields[1])
}

// resolve looks up an aliased document path such as "#attr0.#attr1".
func resolve(it item, path string, names map[string]string) (types.AttributeValue, bool) {
	if it == nil {
		return nil, false
	}
	cur := it
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		if n, ok := names[seg]; ok {
			seg = n
		}
		av, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(segs)-1 {
			return av, true
		}
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur = m.Value
	}
	return nil, false
}

// compare orders two scalar values of the same type.
func compare(a, b types.AttributeValue) (int, bool) {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.Value, y.Value), true
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		fx, err1 := strconv.ParseFloat(x.Value, 64)
		fy, err2 := strconv.ParseFloat(y.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case fx < fy:
			return -1, true
		case fx > fy:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberB:
		y, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x.Value, y.Value), true
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || x.Value != y.Value {
			return 1, ok
		}
		return 0, true
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return 0, ok
	}
	return 0, false
}

func compareTuple(a, b item, attrs []string) int {
	for _, n := range attrs {
		if n == "" {
			continue
		}
		av, aok := a[n]
		bv, bok := b[n]
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return -1
		case !bok:
			return 1
		}
		if c, ok := compare(av, bv); ok && c != 0 {
			return c
		}
	}
	return 0
}

func hasAttrs(it item, names ...string) bool {
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := it[n]; !ok {
			return false
		}
	}
	return true
}

func keyOf(it item, names []string) item {
	key := item{}
	for _, n := range names {
		if n == "" {
			continue
		}
		if av, ok := it[n]; ok {
			key[n] = av
		}
	}
	return key
}

// projectIndex restricts it to the attributes a secondary index stores.
func projectIndex(it item, ik indexKey, p *types.Projection, tableKey []string) item {
	if p == nil || p.ProjectionType == types.ProjectionTypeAll {
		return it
	}
	keep := append(append([]string{ik.pk, ik.sk}, tableKey...), p.NonKeyAttributes...)
	return keyOf(it, keep)
}

// project applies a projection expression to top-level attributes.
func project(it item, expr string, names map[string]string) item {
	if expr == "" {
		return clone(it)
	}
	out := item{}
	for _, path := range strings.Split(expr, ",") {
		seg := strings.SplitN(strings.TrimSpace(path), ".", 2)[0]
		if n, ok := names[seg]; ok {
			seg = n
		}
		if av, ok := it[seg]; ok {
			out[seg] = av
		}
	}
	return out
}

// applyUpdate applies an update expression to existing, creating the item
// from key if it doesn't exist.
func applyUpdate(existing, key item, expr string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	out := clone(existing)
	if out == nil {
		out = clone(key)
	}
	attr := func(path string) (string, error) {
		if strings.Contains(path, ".") {
			return "", validation("nested update paths are not supported: " + path)
		}
		if n, ok := names[path]; ok {
			return n, nil
		}
		return path, nil
	}
	value := func(ph string) (types.AttributeValue, error) {
		v, ok := values[ph]
		if !ok {
			return nil, validation("undefined value placeholder " + ph)
		}
		return v, nil
	}

	for clause, actions := range splitClauses(expr) {
		for _, action := range actions {
			switch clause {
			case "SET":
				lhs, rhs, ok := strings.Cut(action, " = ")
				if !ok {
					return nil, validation("malformed SET action: " + action)
				}
				name, err := attr(strings.TrimSpace(lhs))
				if err != nil {
					return nil, err
				}
				v, err := value(strings.TrimSpace(rhs))
				if err != nil {
					return nil, err
				}
				out[name] = v
			case "REMOVE":
				name, err := attr(strings.TrimSpace(action))
				if err != nil {
					return nil, err
				}
				delete(out, name)
			case "ADD":
				fields := strings.Fields(action)
				if len(fields) != 2 {
					return nil, validation("malformed ADD action: " + action)
				}
				name, err := attr(fields[0])
				if err != nil {
					return nil, err
				}
				v, err := value(fields[1])
				if err != nil {
					return nil, err
				}
				sum, err := addNumbers(out[name], v)
				if err != nil {
					return nil, err
				}
				out[name] = sum
			default:
				return nil, validation("unsupported update clause " + clause)
			}
		}
	}
	return out, nil
}

// splitClauses splits "SET a = :v, b = :w REMOVE c ADD d :x" by clause.
func splitClauses(expr string) map[string][]string {
	clauses := map[string][]string{}
	var (
		current string
		buf     []string
	)
	flush := func() {
		if current != "" && len(buf) > 0 {
			for _, a := range strings.Split(strings.Join(buf, " "), ",") {
				if a = strings.TrimSpace(a); a != "" {
					clauses[current] = append(clauses[current], a)
				}
			}
		}
		buf = nil
	}
	for _, f := range strings.Fields(expr) {
		switch f {
		case "SET", "REMOVE", "ADD", "DELETE":
			flush()
			current = f
		default:
			buf = append(buf, f)
		}
	}
	flush()
	return clauses
}

func addNumbers(cur, delta types.AttributeValue) (types.AttributeValue, error) {
	d, ok := delta.(*types.AttributeValueMemberN)
	if !ok {
		return nil, validation("ADD needs a number")
	}
	if cur == nil {
		return d, nil
	}
	c, ok := cur.(*types.AttributeValueMemberN)
	if !ok {
		return nil, validation("an operand in the update expression has an incorrect data type")
	}
	ci, err1 := strconv.ParseInt(c.Value, 10, 64)
	di, err2 := strconv.ParseInt(d.Value, 10, 64)
	if err1 == nil && err2 == nil {
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(ci+di, 10)}, nil
	}
	cf, err1 := strconv.ParseFloat(c.Value, 64)
	df, err2 := strconv.ParseFloat(d.Value, 64)
	if err1 != nil || err2 != nil {
		return nil, validation("invalid number")
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(cf+df, 'g', -1, 64)}, nil
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}
