// Package store provides a document store over a single DynamoDB table.
//
// A [Store] wraps one table. Documents are ordered field maps ([Document])
// identified by the table's partition key and optional sort key. Every
// write stores a fresh revision token in the revision field, and writes of
// a document that carries a revision only succeed if the stored revision
// still matches.
//
// # Actions
//
// [Store.RunActions] executes a list of [Action] values. Gets of documents
// written later in the list run before the writes, gets of documents
// written earlier run after them, and everything else runs concurrently.
// Writes marked InAtomicWrite are sent as one transaction.
//
//	err := s.RunActions(ctx, []*store.Action{
//	    {Kind: store.Create, Doc: order},
//	    {Kind: store.Update, Doc: customer, InAtomicWrite: true, Mods: []store.Mod{
//	        {FieldPath: "orders", Value: store.Int(1), Op: store.ModIncrement},
//	    }},
//	}, nil)
//
// # Queries
//
// [Store.RunGetQuery] picks the table or secondary index best suited to a
// [Query], falling back to a scan only when [Config] AllowScans is set, and
// returns a [DocumentIterator]. [Store.QueryPlan] reports the choice
// without running the query.
//
// # Configuration
//
// Use [DefaultConfig] and adjust:
//
//	cfg := store.DefaultConfig()
//	cfg.AllowScans = true
//	cfg.MaxConcurrency = 32
//	cfg.Logger = logger
//
// # Errors
//
// Failures are [*Error] values classified by [ErrorKind]; match them with
// errors.Is against the sentinels:
//
//   - [ErrInvalidArgument] - malformed action or query, missing key, disallowed scan
//   - [ErrNotFound] - document missing or revision mismatch
//   - [ErrAlreadyExists] - Create of an existing document
//   - [ErrResourceExhausted] - provider throttling
//   - [ErrTransactionFailed] - atomic write group cancelled
//   - [ErrClosed] - Store used after Close
//
// Failures of RunActions are wrapped in an [*ActionError] naming the
// failing action.
package store
