// Package store provides the DynamoDB plumbing shared by every collection type.
//
// Collections are logical groups of items living in one physical table and
// distinguished by a group attribute. The package owns the table layout
// ([Schema]), the table lifecycle ([Collection.Initialize],
// [Collection.Describe]) and the point and index operations that ordered
// collections such as the stack package are built on.
//
// # Store Adapter
//
// All calls go through the [Client] interface, which *dynamodb.Client
// satisfies. Build one with [NewClient] or pass any implementation:
//
//	client, err := store.NewClient(ctx, store.ClientConfig{
//	    Region:   "ap-southeast-2",
//	    Endpoint: "http://localhost:8000", // DynamoDB Local
//	})
//	coll := store.NewCollection(client, store.DefaultConfig())
//
// # Table Layout
//
// Every item has a string hash key ("pk") of the form "<group>@<ordering key>",
// a group attribute ("meta_id") and an ordering attribute ("meta_order").
// Ordered collections add a KEYS_ONLY global secondary index on
// (meta_id, meta_order). The index is eventually consistent, so it is only
// used to locate candidate keys; payloads are always re-read by primary key.
//
// # Errors
//
//   - [ErrSchema] - table parameters are invalid; nothing was sent
//   - [ErrTableExists] - the table already exists (expected on re-runs)
//   - [ErrTableNotFound] - describe on a missing table
//   - [ErrNotInitialized] - item operation on a missing table
//   - [ErrNotFound] - item doesn't exist
//   - [ErrConditionFailed] - conditional write precondition did not hold
//   - [ErrStoreUnavailable] - transport or throttling failure, retry with backoff
//   - [ErrTimeout] - a round trip exceeded [Config.OpTimeout]
package store
