package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbstack/internal/orderkey"
	"github.com/jacentio/ddbstack/store"
)

// Kind is the collection kind stacks register under.
const Kind = "stack"

// ErrPopContention is returned when every pop attempt lost the delete race
// to another popper. IsRetryable reports true for it.
var ErrPopContention = errors.New("ddbstack: pop lost to concurrent pops")

// IsRetryable reports whether a stack operation failed transiently: pop
// contention or any error store.IsRetryable accepts.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPopContention) || store.IsRetryable(err)
}

// Stack is a LIFO collection stored in a shared DynamoDB table.
// It holds no state between calls besides its name and configuration and is
// safe for concurrent use.
type Stack[T any] struct {
	coll        *store.Collection
	name        string
	clock       func() time.Time
	key         orderkey.Func
	logger      *slog.Logger
	window      int32
	popAttempts int
	ttl         time.Duration
}

// Option configures a Stack.
type Option func(*options)

type options struct {
	clock       func() time.Time
	key         orderkey.Func
	logger      *slog.Logger
	window      int
	popAttempts int
	ttl         time.Duration
	registry    *store.Registry
}

// WithClock sets the time source for ordering keys and the read watermark.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithKeyFunc replaces the ordering key generator. Only use orderkey.Millis
// to read tables written by older clients; it loses pushes within one millisecond.
func WithKeyFunc(fn orderkey.Func) Option {
	return func(o *options) { o.key = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSeekWindow sets how many index candidates one read considers.
// With 1 (the default) a dangling index entry makes the read return None;
// larger windows skip past deleted or expired candidates.
// Max: 100
func WithSeekWindow(n int) Option {
	return func(o *options) { o.window = n }
}

// WithPopAttempts sets how many times Pop re-reads the top after losing a
// delete race. Default: 3
func WithPopAttempts(n int) Option {
	return func(o *options) { o.popAttempts = n }
}

// WithItemTTL makes pushed items expire after ttl. Expired items are never
// returned, even before DynamoDB removes them. Expiry is stored in whole
// seconds, rounded up. See Collection.EnableTTL.
func WithItemTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithRegistry registers the stack name so change feeds recognize it.
func WithRegistry(r *store.Registry) Option {
	return func(o *options) { o.registry = r }
}

// New creates a Stack named name over coll.
func New[T any](coll *store.Collection, name string, opts ...Option) *Stack[T] {
	o := options{
		clock:       time.Now,
		key:         orderkey.Unique,
		window:      1,
		popAttempts: 3,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.window < 1 {
		o.window = 1
	}
	if o.window > 100 {
		o.window = 100
	}
	if o.popAttempts < 1 {
		o.popAttempts = 1
	}
	if o.ttl < 0 {
		o.ttl = 0
	}
	if o.registry != nil {
		o.registry.Register(name, Kind)
	}

	return &Stack[T]{
		coll:        coll,
		name:        name,
		clock:       o.clock,
		key:         o.key,
		logger:      o.logger.With("stack", name),
		window:      int32(o.window),
		popAttempts: o.popAttempts,
		ttl:         o.ttl,
	}
}

// Name returns the stack name (the group key of its items).
func (s *Stack[T]) Name() string {
	return s.name
}

// Indexes returns the secondary index stacks need on the shared table.
func (s *Stack[T]) Indexes() []store.Index {
	return []store.Index{s.coll.Schema().OrderIndex(s.coll.IndexName())}
}

// Initialize creates the shared table with the stack's ordering index.
// Returns store.ErrTableExists if the table is already there.
func (s *Stack[T]) Initialize(ctx context.Context, opts ...store.TableOption) (*types.TableDescription, error) {
	return s.coll.Initialize(ctx, s.Indexes(), opts...)
}

// Push writes value on top of the stack. The write is an unconditional
// upsert; uniqueness comes from the ordering key. Returns
// store.ErrNotInitialized if the table doesn't exist.
func (s *Stack[T]) Push(ctx context.Context, value T, tag string) (Item[T], error) {
	now := s.clock()
	key := s.key(now)

	item := Item[T]{
		ID:          orderkey.ItemID(s.name, key),
		Group:       s.name,
		OrderingKey: key,
		Tag:         tag,
		Value:       value,
	}
	if s.ttl > 0 {
		item.ExpiresAt = store.ExpiryTime(now.Add(s.ttl))
	}

	raw, err := encodeItem(s.coll.Schema(), item)
	if err != nil {
		return Item[T]{}, err
	}
	if err := s.coll.Put(ctx, raw); err != nil {
		return Item[T]{}, fmt.Errorf("push %s: %w", s.name, err)
	}
	return item, nil
}

// Top returns the most recently pushed visible item.
func (s *Stack[T]) Top(ctx context.Context) (Option[T], error) {
	return s.seek(ctx, false, s.window)
}

// Bottom returns the oldest visible item.
func (s *Stack[T]) Bottom(ctx context.Context) (Option[T], error) {
	return s.seek(ctx, true, s.window)
}

// Pop removes and returns the top item. On an empty stack it returns None
// and deletes nothing.
func (s *Stack[T]) Pop(ctx context.Context) (Option[T], error) {
	schema := s.coll.Schema()

	for attempt := 1; attempt <= s.popAttempts; attempt++ {
		top, err := s.seek(ctx, false, s.window)
		if err != nil {
			return None[T](), err
		}
		item, ok := top.Get()
		if !ok {
			return None[T](), nil
		}

		_, err = s.coll.Delete(ctx, item.ID, map[string]string{
			schema.OrderAttr: item.OrderingKey,
		})
		if err == nil {
			return top, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return None[T](), fmt.Errorf("pop %s: %w", s.name, err)
		}

		// Someone else popped it first.
		s.logger.Debug("lost pop race",
			"id", item.ID,
			"attempt", attempt,
		)
	}

	return None[T](), fmt.Errorf("%w: %s after %d attempts", ErrPopContention, s.name, s.popAttempts)
}

// seek is the two-phase read. The index query locates up to limit candidate
// keys in the requested direction; each is then fetched by primary key until
// one resolves. Nothing in the index and only dangling candidates both yield None.
func (s *Stack[T]) seek(ctx context.Context, forward bool, limit int32) (Option[T], error) {
	now := s.clock()
	schema := s.coll.Schema()

	entries, err := s.coll.QueryIndex(ctx, store.IndexQuery{
		Group:   s.name,
		Before:  orderkey.Watermark(now),
		Forward: forward,
		Limit:   limit,
	})
	if err != nil {
		return None[T](), fmt.Errorf("seek %s: %w", s.name, err)
	}

	for _, entry := range entries {
		raw, err := s.coll.Get(ctx, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("index entry has no item", "id", entry.ID)
			continue
		}
		if err != nil {
			return None[T](), fmt.Errorf("fetch %s: %w", entry.ID, err)
		}
		if store.IsExpired(raw, schema.TTLAttr, now) {
			continue
		}

		item, err := DecodeItem[T](schema, raw)
		if err != nil {
			return None[T](), fmt.Errorf("decode %s: %w", entry.ID, err)
		}
		return Some(item), nil
	}

	return None[T](), nil
}
