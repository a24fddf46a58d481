package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// writeOperation is a write action with its native request fully built.
// It is created before any I/O and used once.
type writeOperation struct {
	action *Action

	// item describes the write for a transaction; exactly one of its
	// members is set.
	item types.TransactWriteItem

	// newPartitionKey is set when a Create generated the document's key.
	newPartitionKey string

	// newRevision is the revision stored by the write; empty for deletes.
	newRevision string

	// run sends the write as a standalone request.
	run func(ctx context.Context) error

	// done is set once the write has succeeded.
	done bool
}

// RunActions executes actions. Gets on documents written later in the
// list run first, then non-atomic writes, the atomic group and the
// remaining gets run concurrently, and finally gets on documents written
// earlier in the list run. Every statically detectable problem is reported
// before any I/O. An *Action may appear in the list only once.
//
// Each successful write stores a new revision on its document; a Create
// without a partition key also receives the generated key. This happens
// even when another action fails.
//
// The returned error, if any, is an *ActionError for the lowest-indexed
// failing non-atomic write, else for the atomic group, else for the
// lowest-indexed failing get.
func (s *Store) RunActions(ctx context.Context, actions []*Action, beforeDo BeforeDo) (err error) {
	if err := s.checkOpen("run actions"); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "docstore.RunActions",
		trace.WithAttributes(attribute.Int("docstore.actions", len(actions))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	groups, ops, err := s.prepareActions(actions, beforeDo)
	if err != nil {
		return err
	}

	errs := make([]error, len(actions))
	ran := make([]bool, len(actions))
	defer func() {
		for i, a := range actions {
			if ran[i] {
				s.metrics.recordAction(a.Kind, errs[i])
			}
		}
	}()

	if len(groups.beforeGets) > 0 {
		markRan(ran, groups.beforeGets)
		s.runGets(ctx, groups.beforeGets, beforeDo, errs)
		if err := firstActionError(groups.beforeGets, errs); err != nil {
			return err
		}
	}

	writeOps := make([]*writeOperation, 0, len(groups.writes))
	for _, a := range groups.writes {
		writeOps = append(writeOps, ops[a.index])
	}
	atomicOps := make([]*writeOperation, 0, len(groups.atomic))
	for _, a := range groups.atomic {
		atomicOps = append(atomicOps, ops[a.index])
	}
	markRan(ran, groups.writes)
	markRan(ran, groups.atomic)
	markRan(ran, groups.gets)

	// The two write phases don't cancel each other: both are joined before
	// any failure is reported.
	var g errgroup.Group
	if len(writeOps) > 0 {
		g.Go(func() error {
			s.runWrites(ctx, writeOps, errs)
			return nil
		})
	}
	if len(atomicOps) > 0 {
		g.Go(func() error {
			s.runAtomic(ctx, atomicOps, beforeDo, errs)
			return nil
		})
	}
	if len(groups.gets) > 0 {
		s.runGets(ctx, groups.gets, beforeDo, errs)
	}
	_ = g.Wait()

	for _, op := range ops {
		if op.done {
			s.writeBack(op)
		}
	}

	if err := firstActionError(groups.writes, errs); err != nil {
		return err
	}
	if err := firstActionError(groups.atomic, errs); err != nil {
		return err
	}
	if err := firstActionError(groups.gets, errs); err != nil {
		return err
	}

	if len(groups.afterGets) > 0 {
		markRan(ran, groups.afterGets)
		s.runGets(ctx, groups.afterGets, beforeDo, errs)
		if err := firstActionError(groups.afterGets, errs); err != nil {
			return err
		}
	}
	return nil
}

// prepareActions validates actions, classifies them and builds every write
// request.
func (s *Store) prepareActions(actions []*Action, beforeDo BeforeDo) (actionGroups, map[int]*writeOperation, error) {
	writtenKeys := map[string]int{}
	positions := make(map[*Action]int, len(actions))
	for i, a := range actions {
		if a == nil {
			return actionGroups{}, nil, &ActionError{Index: i, Err: newError(InvalidArgument, "run actions", "nil action")}
		}
		if prev, ok := positions[a]; ok {
			return actionGroups{}, nil, &ActionError{Index: i, Kind: a.Kind, Err: newError(InvalidArgument, "run actions",
				"action is the same value as action %d", prev)}
		}
		positions[a] = i
		a.index = i
		if a.Doc == nil {
			return actionGroups{}, nil, &ActionError{Index: i, Kind: a.Kind, Err: newError(InvalidArgument, "run actions", "nil document")}
		}
		a.key = s.keyString(a.Doc)
		if a.key == "" && a.Kind != Create {
			return actionGroups{}, nil, &ActionError{Index: i, Kind: a.Kind, Err: newError(InvalidArgument, "run actions",
				"document is missing key field(s) %v", s.desc.Key.names())}
		}
		if a.Kind == Get || a.key == "" {
			continue
		}
		if prev, ok := writtenKeys[a.key]; ok {
			return actionGroups{}, nil, &ActionError{Index: i, Kind: a.Kind, Err: newError(InvalidArgument, "run actions",
				"document %s is already written by action %d", a.key, prev)}
		}
		writtenKeys[a.key] = i
	}

	groups := groupActions(actions)
	if len(groups.atomic) > maxTransactionSize {
		a := groups.atomic[maxTransactionSize]
		return actionGroups{}, nil, &ActionError{Index: a.index, Kind: a.Kind, Err: newError(InvalidArgument, "run actions",
			"atomic write group has %d actions, at most %d are allowed", len(groups.atomic), maxTransactionSize)}
	}

	ops := make(map[int]*writeOperation, len(groups.writes)+len(groups.atomic))
	for _, group := range [][]*Action{groups.writes, groups.atomic} {
		for _, a := range group {
			op, err := s.newWriteOp(a, beforeDo)
			if err != nil {
				return actionGroups{}, nil, &ActionError{Index: a.index, Kind: a.Kind, Err: err}
			}
			ops[a.index] = op
		}
	}
	return groups, ops, nil
}

func markRan(ran []bool, actions []*Action) {
	for _, a := range actions {
		ran[a.index] = true
	}
}

// firstActionError returns the error of the lowest-indexed failed action in
// group. group is sorted by index.
func firstActionError(group []*Action, errs []error) error {
	for _, a := range group {
		if errs[a.index] != nil {
			return &ActionError{Index: a.index, Kind: a.Kind, Err: errs[a.index]}
		}
	}
	return nil
}

// keyString identifies the document addressed by doc, or returns "" if doc
// lacks a key field.
func (s *Store) keyString(doc *Document) string {
	pv, ok := doc.Get(s.desc.Key.PartitionKey)
	if !ok || pv.isEmpty() {
		return ""
	}
	ks := pv.String()
	if s.desc.Key.SortKey != "" {
		sv, ok := doc.Get(s.desc.Key.SortKey)
		if !ok || sv.IsNull() {
			return ""
		}
		ks += "|" + sv.String()
	}
	return ks
}

// newWriteOp builds the native request for a write action.
func (s *Store) newWriteOp(a *Action, beforeDo BeforeDo) (*writeOperation, error) {
	const op = "write"
	pk, sk := s.desc.Key.PartitionKey, s.desc.Key.SortKey
	revField := s.config.RevisionField
	w := &writeOperation{action: a}

	keyDoc := a.Doc
	if a.Kind == Create && a.key == "" {
		if v, ok := a.Doc.Get(pk); !ok || v.isEmpty() {
			w.newPartitionKey = uuid.NewString()
			keyDoc = NewDocument().Set(pk, String(w.newPartitionKey))
			if sk != "" {
				if v, ok := a.Doc.Get(sk); ok {
					keyDoc.Set(sk, v)
				}
			}
		}
	}
	key, err := EncodeKeyFields(keyDoc, pk, sk)
	if err != nil {
		return nil, &Error{Kind: InvalidArgument, Op: op, Err: err}
	}
	if key == nil {
		return nil, newError(InvalidArgument, op, "document is missing key field(s) %v", s.desc.Key.names())
	}
	if a.Kind != Delete {
		w.newRevision = uuid.NewString()
	}

	b := newExprBuilder()
	cond, err := buildPrecondition(a.Kind, a.Doc, pk, revField, b)
	if err != nil {
		return nil, &Error{Kind: InvalidArgument, Op: op, Err: err}
	}
	table := aws.String(s.desc.Name)

	switch a.Kind {
	case Create, Replace, Put:
		item, err := EncodeItem(a.Doc)
		if err != nil {
			return nil, &Error{Kind: InvalidArgument, Op: op, Err: err}
		}
		for name, av := range key {
			item[name] = av
		}
		item[revField] = &types.AttributeValueMemberS{Value: w.newRevision}
		w.item.Put = &types.Put{
			TableName:                 table,
			Item:                      item,
			ConditionExpression:       optionalString(cond),
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}
		in := &dynamodb.PutItemInput{
			TableName:                 table,
			Item:                      item,
			ConditionExpression:       w.item.Put.ConditionExpression,
			ExpressionAttributeNames:  w.item.Put.ExpressionAttributeNames,
			ExpressionAttributeValues: w.item.Put.ExpressionAttributeValues,
		}
		w.run = func(ctx context.Context) error {
			if err := callBeforeDo(beforeDo, in); err != nil {
				return err
			}
			return s.call(ctx, "PutItem", func(ctx context.Context) error {
				_, err := s.client.PutItem(ctx, in)
				return err
			})
		}

	case Delete:
		w.item.Delete = &types.Delete{
			TableName:                 table,
			Key:                       key,
			ConditionExpression:       optionalString(cond),
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}
		in := &dynamodb.DeleteItemInput{
			TableName:                 table,
			Key:                       key,
			ConditionExpression:       w.item.Delete.ConditionExpression,
			ExpressionAttributeNames:  w.item.Delete.ExpressionAttributeNames,
			ExpressionAttributeValues: w.item.Delete.ExpressionAttributeValues,
		}
		w.run = func(ctx context.Context) error {
			if err := callBeforeDo(beforeDo, in); err != nil {
				return err
			}
			return s.call(ctx, "DeleteItem", func(ctx context.Context) error {
				_, err := s.client.DeleteItem(ctx, in)
				return err
			})
		}

	case Update:
		if err := s.validateMods(a.Mods); err != nil {
			return nil, err
		}
		update, err := buildUpdate(a.Mods, revField, w.newRevision, b)
		if err != nil {
			return nil, &Error{Kind: InvalidArgument, Op: op, Err: err}
		}
		w.item.Update = &types.Update{
			TableName:                 table,
			Key:                       key,
			UpdateExpression:          aws.String(update),
			ConditionExpression:       optionalString(cond),
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}
		in := &dynamodb.UpdateItemInput{
			TableName:                 table,
			Key:                       key,
			UpdateExpression:          w.item.Update.UpdateExpression,
			ConditionExpression:       w.item.Update.ConditionExpression,
			ExpressionAttributeNames:  w.item.Update.ExpressionAttributeNames,
			ExpressionAttributeValues: w.item.Update.ExpressionAttributeValues,
		}
		w.run = func(ctx context.Context) error {
			if err := callBeforeDo(beforeDo, in); err != nil {
				return err
			}
			return s.call(ctx, "UpdateItem", func(ctx context.Context) error {
				_, err := s.client.UpdateItem(ctx, in)
				return err
			})
		}

	default:
		return nil, newError(InvalidArgument, op, "%s is not a write", a.Kind)
	}
	return w, nil
}

// validateMods rejects updates that are empty, touch a key or revision
// field, modify the same field twice or increment a nested field.
func (s *Store) validateMods(mods []Mod) error {
	if len(mods) == 0 {
		return newError(InvalidArgument, "write", "update has no modifications")
	}
	seen := make(map[string]bool, len(mods))
	for _, m := range mods {
		if m.FieldPath == "" {
			return newError(InvalidArgument, "write", "modification has an empty field path")
		}
		switch topLevel(m.FieldPath) {
		case s.desc.Key.PartitionKey, s.desc.Key.SortKey, s.config.RevisionField:
			return newError(InvalidArgument, "write", "cannot modify key or revision field %q", m.FieldPath)
		}
		if seen[m.FieldPath] {
			return newError(InvalidArgument, "write", "field %q is modified more than once", m.FieldPath)
		}
		seen[m.FieldPath] = true
		if m.Op == ModIncrement && !isNumber(m.Value) {
			return newError(InvalidArgument, "write", "increment of %q needs a numeric value, got %s", m.FieldPath, m.Value.Kind())
		}
		// ADD only accepts top-level attributes.
		if m.Op == ModIncrement && topLevel(m.FieldPath) != m.FieldPath {
			return newError(InvalidArgument, "write", "increment of nested field %q is not supported", m.FieldPath)
		}
	}
	return nil
}

// buildUpdate renders mods as an update expression that also stores
// newRevision.
func buildUpdate(mods []Mod, revField, newRevision string, b *exprBuilder) (string, error) {
	var sets, removes, adds []string
	for _, m := range mods {
		name := b.name(m.FieldPath)
		switch m.Op {
		case ModSet:
			ph, err := b.value(m.Value)
			if err != nil {
				return "", err
			}
			sets = append(sets, name+" = "+ph)
		case ModRemove:
			removes = append(removes, name)
		case ModIncrement:
			ph, err := b.value(m.Value)
			if err != nil {
				return "", err
			}
			adds = append(adds, name+" "+ph)
		default:
			return "", fmt.Errorf("unknown modification %d on %q", m.Op, m.FieldPath)
		}
	}
	ph, err := b.value(String(newRevision))
	if err != nil {
		return "", err
	}
	sets = append(sets, b.name(revField)+" = "+ph)

	clauses := []string{"SET " + strings.Join(sets, ", ")}
	if len(removes) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(removes, ", "))
	}
	if len(adds) > 0 {
		clauses = append(clauses, "ADD "+strings.Join(adds, ", "))
	}
	return strings.Join(clauses, " "), nil
}

func callBeforeDo(beforeDo BeforeDo, request any) error {
	if beforeDo == nil {
		return nil
	}
	return beforeDo(request)
}

// runWrites sends each non-atomic write as its own request. A failure does
// not cancel the other writes.
func (s *Store) runWrites(ctx context.Context, ops []*writeOperation, errs []error) {
	var g errgroup.Group
	for _, w := range ops {
		g.Go(func() error {
			err := w.run(ctx)
			if err != nil {
				errs[w.action.index] = classifyWriteError("write", w.action.Kind, err)
				s.logger.Warn("write failed",
					zap.Int("action", w.action.index),
					zap.Stringer("kind", w.action.Kind),
					zap.Error(err),
				)
				return nil
			}
			w.done = true
			return nil
		})
	}
	_ = g.Wait()
}

// runAtomic sends ops as one transaction. On failure every action of the
// group is marked failed and none is written back.
func (s *Store) runAtomic(ctx context.Context, ops []*writeOperation, beforeDo BeforeDo, errs []error) {
	items := make([]types.TransactWriteItem, len(ops))
	for i, w := range ops {
		items[i] = w.item
	}
	in := &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	}

	err := callBeforeDo(beforeDo, in)
	if err == nil {
		err = s.call(ctx, "TransactWriteItems", func(ctx context.Context) error {
			_, err := s.client.TransactWriteItems(ctx, in)
			return err
		})
	}
	if err == nil {
		for _, w := range ops {
			w.done = true
		}
		return
	}

	failed := transactionFailure(err)
	terr := transactionError(err)
	s.logger.Warn("transaction cancelled",
		zap.Int("items", len(ops)),
		zap.Int("failedItem", failed),
		zap.Error(err),
	)
	// The group reports its failure once, on the action the provider
	// blamed, or on the first action when no single item is to blame.
	target := ops[0].action.index
	if failed >= 0 && failed < len(ops) {
		target = ops[failed].action.index
	}
	errs[target] = terr
}

// transactionError classifies a transaction failure. Provider errors
// become TransactionFailed; context and callback errors keep their kind.
func transactionError(err error) error {
	var e *Error
	if errors.As(err, &e) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyError("transact", err)
	}
	return &Error{Kind: TransactionFailed, Op: "transact", Err: err}
}

// transactionFailure returns the position of the first item whose
// cancellation reason is not "None", or -1.
func transactionFailure(err error) int {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return -1
	}
	for i, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code != "None" {
			return i
		}
	}
	return -1
}

// writeBack records the outcome of a successful write on its document.
func (s *Store) writeBack(w *writeOperation) {
	doc := w.action.Doc
	if w.newPartitionKey != "" {
		doc.Set(s.desc.Key.PartitionKey, String(w.newPartitionKey))
	}
	if w.newRevision != "" {
		doc.Set(s.config.RevisionField, String(w.newRevision))
	}
}
