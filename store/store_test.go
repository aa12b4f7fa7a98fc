package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/ddbstack/internal/memddb"
	"github.com/jacentio/ddbstack/store"
)

var _ store.Client = (*memddb.DB)(nil)

func newCollection(t *testing.T) (*memddb.DB, *store.Collection) {
	t.Helper()
	db := memddb.New()
	return db, store.NewCollection(db, store.DefaultConfig())
}

func orderIndex(c *store.Collection) []store.Index {
	return []store.Index{c.Schema().OrderIndex(c.IndexName())}
}

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	assert.Equal(t, "collections", cfg.TableName)
	assert.Equal(t, "collections-sorted", cfg.IndexName)
	assert.Zero(t, cfg.OpTimeout)
	assert.Equal(t, store.DefaultSchema(), cfg.Schema)
}

func TestNewCollection_FillsDefaults(t *testing.T) {
	c := store.NewCollection(nil, store.Config{})

	assert.Equal(t, "collections", c.TableName())
	assert.Equal(t, "collections-sorted", c.IndexName())
	assert.Equal(t, store.DefaultSchema(), c.Schema())
}

func TestNewCollection_PartialSchema(t *testing.T) {
	c := store.NewCollection(nil, store.Config{
		Schema: store.Schema{HashKey: "id"},
	})

	s := c.Schema()
	assert.Equal(t, "id", s.HashKey)
	assert.Equal(t, "meta_id", s.GroupAttr)
	assert.Equal(t, "meta_order", s.OrderAttr)
	assert.False(t, s.SSE, "explicit partial schema keeps SSE off")
}

func TestErrors(t *testing.T) {
	errs := []error{
		store.ErrSchema,
		store.ErrTableExists,
		store.ErrTableNotFound,
		store.ErrNotInitialized,
		store.ErrNotFound,
		store.ErrConditionFailed,
		store.ErrStoreUnavailable,
		store.ErrTimeout,
	}

	for _, err := range errs {
		assert.True(t, strings.HasPrefix(err.Error(), "ddbstack:"), "error %q should start with 'ddbstack:'", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", store.ErrStoreUnavailable, true},
		{"timeout", store.ErrTimeout, true},
		{"wrapped timeout", errors.Join(errors.New("push"), store.ErrTimeout), true},
		{"schema", store.ErrSchema, false},
		{"not found", store.ErrNotFound, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.IsRetryable(tt.err))
		})
	}
}

func TestInitialize_CreatesTableWithIndex(t *testing.T) {
	db, c := newCollection(t)
	ctx := context.Background()

	desc, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)
	require.NotNil(t, desc)

	assert.Equal(t, "collections", aws.ToString(desc.TableName))
	require.Len(t, desc.GlobalSecondaryIndexes, 1)
	assert.Equal(t, "collections-sorted", aws.ToString(desc.GlobalSecondaryIndexes[0].IndexName))
	assert.Len(t, desc.AttributeDefinitions, 3)
	assert.Equal(t, 1, db.Calls("CreateTable"))
}

func TestInitialize_AlreadyExists(t *testing.T) {
	_, c := newCollection(t)
	ctx := context.Background()

	_, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)

	_, err = c.Initialize(ctx, orderIndex(c))
	require.ErrorIs(t, err, store.ErrTableExists)
	assert.True(t, store.IsAlreadyExists(err))
}

func TestInitialize_OverridesWin(t *testing.T) {
	_, c := newCollection(t)

	desc, err := c.Initialize(context.Background(), orderIndex(c),
		store.WithProvisionedThroughput(5, 5),
		store.WithStream(types.StreamViewTypeNewAndOldImages),
	)
	require.NoError(t, err)

	require.NotNil(t, desc.BillingModeSummary)
	assert.Equal(t, types.BillingModeProvisioned, desc.BillingModeSummary.BillingMode)
	require.NotNil(t, desc.StreamSpecification)
	assert.Equal(t, types.StreamViewTypeNewAndOldImages, desc.StreamSpecification.StreamViewType)
}

func TestInitialize_SchemaErrorBeforeAnyCall(t *testing.T) {
	db, c := newCollection(t)

	breakKeys := func(in *dynamodb.CreateTableInput) {
		in.AttributeDefinitions = nil
	}

	_, err := c.Initialize(context.Background(), orderIndex(c), breakKeys)
	require.ErrorIs(t, err, store.ErrSchema)
	assert.Zero(t, db.Calls("CreateTable"))
}

func TestInitialize_EmptyParameters(t *testing.T) {
	db, c := newCollection(t)

	wipe := func(in *dynamodb.CreateTableInput) {
		*in = dynamodb.CreateTableInput{}
	}

	_, err := c.Initialize(context.Background(), nil, wipe)
	require.ErrorIs(t, err, store.ErrSchema)
	assert.Zero(t, db.Calls("CreateTable"))
}

func TestDescribe(t *testing.T) {
	_, c := newCollection(t)
	ctx := context.Background()

	_, err := c.Describe(ctx)
	require.ErrorIs(t, err, store.ErrTableNotFound)

	_, err = c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)

	desc, err := c.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.TableStatusActive, desc.TableStatus)
}

func TestWaitUntilActive(t *testing.T) {
	_, c := newCollection(t)
	ctx := context.Background()

	_, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)

	require.NoError(t, c.WaitUntilActive(ctx, time.Second))
}

func TestWaitUntilActive_MissingTable(t *testing.T) {
	_, c := newCollection(t)

	err := c.WaitUntilActive(context.Background(), 300*time.Millisecond)
	require.Error(t, err)
}

func TestEnableTTL(t *testing.T) {
	db, c := newCollection(t)
	ctx := context.Background()

	require.ErrorIs(t, c.EnableTTL(ctx), store.ErrTableNotFound)

	_, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)
	require.NoError(t, c.EnableTTL(ctx))
	assert.Equal(t, "ttl", db.TTLAttribute("collections"))
}

func TestItemOps_NotInitialized(t *testing.T) {
	_, c := newCollection(t)
	ctx := context.Background()

	err := c.Put(ctx, map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "s@1"},
	})
	require.ErrorIs(t, err, store.ErrNotInitialized)

	_, err = c.Get(ctx, "s@1")
	require.ErrorIs(t, err, store.ErrNotInitialized)

	_, err = c.QueryIndex(ctx, store.IndexQuery{Group: "s", Before: "9"})
	require.ErrorIs(t, err, store.ErrNotInitialized)
}

func TestPutGetDelete(t *testing.T) {
	_, c := newCollection(t)
	ctx := context.Background()
	_, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)

	item := map[string]types.AttributeValue{
		"pk":         &types.AttributeValueMemberS{Value: "s@0000000000001"},
		"meta_id":    &types.AttributeValueMemberS{Value: "s"},
		"meta_order": &types.AttributeValueMemberS{Value: "0000000000001"},
	}
	require.NoError(t, c.Put(ctx, item))

	got, err := c.Get(ctx, "s@0000000000001")
	require.NoError(t, err)
	assert.Equal(t, item["meta_id"], got["meta_id"])

	_, err = c.Delete(ctx, "s@0000000000001", map[string]string{"meta_order": "other"})
	require.ErrorIs(t, err, store.ErrConditionFailed)

	old, err := c.Delete(ctx, "s@0000000000001", map[string]string{"meta_order": "0000000000001"})
	require.NoError(t, err)
	assert.Equal(t, item["pk"], old["pk"])

	_, err = c.Get(ctx, "s@0000000000001")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.Delete(ctx, "s@0000000000001", nil)
	require.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestQueryIndex_OrderAndBound(t *testing.T) {
	_, c := newCollection(t)
	ctx := context.Background()
	_, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)

	for _, k := range []string{"0000000000002", "0000000000001", "0000000000003", "0000000000009"} {
		require.NoError(t, c.Put(ctx, map[string]types.AttributeValue{
			"pk":         &types.AttributeValueMemberS{Value: "s@" + k},
			"meta_id":    &types.AttributeValueMemberS{Value: "s"},
			"meta_order": &types.AttributeValueMemberS{Value: k},
		}))
	}
	require.NoError(t, c.Put(ctx, map[string]types.AttributeValue{
		"pk":         &types.AttributeValueMemberS{Value: "other@0000000000001"},
		"meta_id":    &types.AttributeValueMemberS{Value: "other"},
		"meta_order": &types.AttributeValueMemberS{Value: "0000000000001"},
	}))

	asc, err := c.QueryIndex(ctx, store.IndexQuery{Group: "s", Before: "0000000000005", Forward: true})
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, "s@0000000000001", asc[0].ID)
	assert.Equal(t, "0000000000003", asc[2].OrderingKey)

	desc, err := c.QueryIndex(ctx, store.IndexQuery{Group: "s", Before: "0000000000005", Limit: 1})
	require.NoError(t, err)
	require.Len(t, desc, 1)
	assert.Equal(t, "s@0000000000003", desc[0].ID)
	assert.Equal(t, "s", desc[0].Group)
}

func TestErrorMapping_Transport(t *testing.T) {
	db, c := newCollection(t)
	ctx := context.Background()
	_, err := c.Initialize(ctx, orderIndex(c))
	require.NoError(t, err)

	db.FailNext("GetItem", errors.New("dial tcp 127.0.0.1:8000: connect: connection refused"))
	_, err = c.Get(ctx, "s@1")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.True(t, store.IsRetryable(err))

	db.FailNext("PutItem", context.DeadlineExceeded)
	err = c.Put(ctx, map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: "s@1"}})
	require.ErrorIs(t, err, store.ErrTimeout)

	db.FailNext("Query", context.Canceled)
	_, err = c.QueryIndex(ctx, store.IndexQuery{Group: "s", Before: "9"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, store.IsRetryable(err))
}

// stalledClient never answers GetItem until the caller gives up.
type stalledClient struct {
	*memddb.DB
}

func (c stalledClient) GetItem(ctx context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOpTimeout_BoundsEachCall(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.OpTimeout = 10 * time.Millisecond
	c := store.NewCollection(stalledClient{DB: memddb.New()}, cfg)

	start := time.Now()
	_, err := c.Get(context.Background(), "s@1")

	require.ErrorIs(t, err, store.ErrTimeout)
	assert.True(t, store.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOpTimeout_CallerCancelPassesThrough(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.OpTimeout = time.Minute
	c := store.NewCollection(stalledClient{DB: memddb.New()}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "s@1")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, store.ErrTimeout)
	assert.False(t, store.IsRetryable(err))
}
