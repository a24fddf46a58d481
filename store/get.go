package store

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxUnprocessedRetries = 8
	unprocessedBackoff    = 25 * time.Millisecond
	maxUnprocessedBackoff = time.Second
)

// getBatch is one BatchGetItem worth of distinct keys sharing a projection.
type getBatch struct {
	fieldPaths []string
	keys       []map[string]types.AttributeValue
	// byKey maps a key string to every get addressing that document.
	byKey map[string][]*Action
}

// runGets reads the documents of gets, recording per-action failures in
// errs. Batches run concurrently.
func (s *Store) runGets(ctx context.Context, gets []*Action, beforeDo BeforeDo, errs []error) {
	batches, err := s.batchGets(gets)
	if err != nil {
		for _, a := range gets {
			errs[a.index] = err
		}
		return
	}

	var g errgroup.Group
	for _, batch := range batches {
		g.Go(func() error {
			found, err := s.batchGet(ctx, batch, beforeDo)
			for ks, actions := range batch.byKey {
				for _, a := range actions {
					switch {
					case err != nil:
						errs[a.index] = err
					case found[ks] == nil:
						errs[a.index] = newError(NotFound, "get", "document %s not found", ks)
					default:
						if derr := DecodeItem(found[ks], a.Doc); derr != nil {
							errs[a.index] = &Error{Kind: Unknown, Op: "get", Err: derr}
						}
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// batchGets groups gets by projection and splits each group into batches of
// at most BatchGetSize distinct keys. A document requested twice with the
// same projection is fetched once.
func (s *Store) batchGets(gets []*Action) ([]*getBatch, error) {
	var (
		batches []*getBatch
		open    = map[string]*getBatch{}
	)
	for _, a := range gets {
		proj := strings.Join(a.FieldPaths, "\x00")
		b := open[proj]
		if b != nil {
			if actions, ok := b.byKey[a.key]; ok {
				b.byKey[a.key] = append(actions, a)
				continue
			}
		}
		if b == nil || len(b.keys) >= s.config.BatchGetSize {
			b = &getBatch{fieldPaths: a.FieldPaths, byKey: map[string][]*Action{}}
			open[proj] = b
			batches = append(batches, b)
		}
		key, err := EncodeKeyFields(a.Doc, s.desc.Key.PartitionKey, s.desc.Key.SortKey)
		if err != nil {
			return nil, &Error{Kind: InvalidArgument, Op: "get", Err: err}
		}
		b.keys = append(b.keys, key)
		b.byKey[a.key] = []*Action{a}
	}
	return batches, nil
}

// batchGet fetches one batch, resubmitting unprocessed keys with backoff
// until none remain. It returns the items found by key string.
func (s *Store) batchGet(ctx context.Context, batch *getBatch, beforeDo BeforeDo) (map[string]map[string]types.AttributeValue, error) {
	ka := types.KeysAndAttributes{Keys: batch.keys}
	if len(batch.fieldPaths) > 0 {
		b := newExprBuilder()
		ka.ProjectionExpression = aws.String(b.projection(withKeyFields(batch.fieldPaths, s.desc.Key.names())))
		ka.ExpressionAttributeNames = b.attrNames()
	}
	if s.config.ConsistentRead {
		ka.ConsistentRead = aws.Bool(true)
	}
	in := &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{s.desc.Name: ka},
	}

	found := make(map[string]map[string]types.AttributeValue, len(batch.keys))
	backoff := unprocessedBackoff
	for attempt := 0; ; attempt++ {
		if err := callBeforeDo(beforeDo, in); err != nil {
			return nil, classifyError("get", err)
		}
		var out *dynamodb.BatchGetItemOutput
		err := s.call(ctx, "BatchGetItem", func(ctx context.Context) error {
			var err error
			out, err = s.client.BatchGetItem(ctx, in)
			return err
		})
		if err != nil {
			return nil, classifyError("get", err)
		}
		for _, item := range out.Responses[s.desc.Name] {
			found[s.itemKeyString(item)] = item
		}

		rest, ok := out.UnprocessedKeys[s.desc.Name]
		if !ok || len(rest.Keys) == 0 {
			return found, nil
		}
		if attempt >= maxUnprocessedRetries {
			return nil, newError(ResourceExhausted, "get", "%d keys still unprocessed after %d attempts", len(rest.Keys), attempt+1)
		}
		s.logger.Debug("retrying unprocessed keys",
			zap.Int("keys", len(rest.Keys)),
			zap.Int("attempt", attempt+1),
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, classifyError("get", err)
		}
		backoff = min(backoff*2, maxUnprocessedBackoff)
		in = &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{s.desc.Name: rest},
		}
	}
}

// itemKeyString returns the key string of a native item.
func (s *Store) itemKeyString(item map[string]types.AttributeValue) string {
	keyItem := make(map[string]types.AttributeValue, 2)
	for _, n := range s.desc.Key.names() {
		if av, ok := item[n]; ok {
			keyItem[n] = av
		}
	}
	doc := NewDocument()
	if err := DecodeItem(keyItem, doc); err != nil {
		return ""
	}
	return s.keyString(doc)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
