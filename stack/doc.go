// Package stack implements a LIFO collection persisted in DynamoDB.
//
// Items are written to a table shared with other collections and located
// through an eventually consistent, KEYS_ONLY secondary index ordered by a
// time-based ordering key. Every read is two-phase: the index is queried for
// a candidate primary key, then the item is fetched by that key with a
// strongly consistent read. The index is never trusted for payload.
//
//	coll := store.NewCollection(client, store.DefaultConfig())
//	s := stack.New[int](coll, "myStack")
//	if _, err := s.Initialize(ctx); err != nil && !store.IsAlreadyExists(err) {
//	    return err
//	}
//	_, _ = s.Push(ctx, 10, "a")
//	top, _ := s.Top(ctx)
//	if item, ok := top.Get(); ok {
//	    fmt.Println(item.Value, item.Tag)
//	}
//
// # Consistency
//
// A push may not be visible to Top, Bottom or Pop until the index catches up.
// Absence from the index does not imply absence from the table. An index
// entry whose item was already deleted is skipped.
//
// Pop deletes conditionally: the delete only succeeds if the item still
// exists with the ordering key that was read. Losing that race re-reads the
// top, up to the configured number of attempts. Pushes and pops are not
// serialized against each other, so a pop racing a push may remove the item
// that was on top when it looked.
package stack
