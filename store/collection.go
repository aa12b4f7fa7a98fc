package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Collection provides table lifecycle and point operations over one shared table.
// It has no ordering semantics; those belong to the collection types built on it.
type Collection struct {
	client Client
	config Config
	logger *slog.Logger
}

// NewCollection creates a new Collection. The client is held by reference
// and may be shared between collections.
func NewCollection(client Client, config Config) *Collection {
	config.validate()
	return &Collection{
		client: client,
		config: config,
		logger: config.Logger,
	}
}

// TableName returns the physical table name.
func (c *Collection) TableName() string {
	return c.config.TableName
}

// IndexName returns the ordering index name.
func (c *Collection) IndexName() string {
	return c.config.IndexName
}

// Schema returns the attribute layout.
func (c *Collection) Schema() Schema {
	return c.config.Schema
}

// TableOption overrides merged table parameters. Options run last, after
// schema defaults, the primary key and collection indexes.
type TableOption func(*dynamodb.CreateTableInput)

// WithProvisionedThroughput switches the table and every index to
// provisioned capacity.
func WithProvisionedThroughput(read, write int64) TableOption {
	return func(in *dynamodb.CreateTableInput) {
		in.BillingMode = types.BillingModeProvisioned
		in.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(read),
			WriteCapacityUnits: aws.Int64(write),
		}
		for i := range in.GlobalSecondaryIndexes {
			in.GlobalSecondaryIndexes[i].ProvisionedThroughput = &types.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(read),
				WriteCapacityUnits: aws.Int64(write),
			}
		}
	}
}

// WithStream enables DynamoDB Streams, needed by the stream package's change feed.
func WithStream(view types.StreamViewType) TableOption {
	return func(in *dynamodb.CreateTableInput) {
		in.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: view,
		}
	}
}

// WithTags attaches resource tags to the table.
func WithTags(tags map[string]string) TableOption {
	return func(in *dynamodb.CreateTableInput) {
		for k, v := range tags {
			in.Tags = append(in.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
	}
}

// WithoutSSE disables server-side encryption.
func WithoutSSE() TableOption {
	return func(in *dynamodb.CreateTableInput) {
		in.SSESpecification = nil
	}
}

// Initialize creates the table. Parameters are merged with precedence
// schema defaults < primary key < indexes < opts, then validated.
//
// An existing table yields ErrTableExists; callers decide whether that is fine.
func (c *Collection) Initialize(ctx context.Context, indexes []Index, opts ...TableOption) (*types.TableDescription, error) {
	input := c.createTableInput(indexes, opts...)
	if err := validateCreateTable(input); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.client.CreateTable(ctx, input)
	if err != nil {
		return nil, mapError(err, ErrTableNotFound)
	}

	c.logger.Info("created collection table",
		"table", c.config.TableName,
		"indexes", len(input.GlobalSecondaryIndexes),
	)
	return out.TableDescription, nil
}

// createTableInput merges the table parameters.
func (c *Collection) createTableInput(indexes []Index, opts ...TableOption) *dynamodb.CreateTableInput {
	input := c.config.Schema.CreateTableInput(c.config.TableName)

	for _, idx := range indexes {
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, idx.GSI)
		for _, def := range idx.Attributes {
			if !hasDefinition(input.AttributeDefinitions, aws.ToString(def.AttributeName)) {
				input.AttributeDefinitions = append(input.AttributeDefinitions, def)
			}
		}
	}

	for _, opt := range opts {
		opt(input)
	}
	return input
}

// Describe returns the table description without side effects.
func (c *Collection) Describe(ctx context.Context) (*types.TableDescription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.config.TableName),
	})
	if err != nil {
		return nil, mapError(err, ErrTableNotFound)
	}
	return out.Table, nil
}

// WaitUntilActive blocks until the table exists and is ACTIVE, or maxWait elapses.
func (c *Collection) WaitUntilActive(ctx context.Context, maxWait time.Duration) error {
	waiter := dynamodb.NewTableExistsWaiter(c.client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = 100 * time.Millisecond
		o.MaxDelay = 5 * time.Second
	})
	err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.config.TableName),
	}, maxWait)
	if err != nil {
		return fmt.Errorf("wait for table %s: %w", c.config.TableName, err)
	}
	return nil
}

// EnableTTL turns on DynamoDB TTL for the schema's TTL attribute so expired
// items are eventually removed by the service.
func (c *Collection) EnableTTL(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(c.config.TableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(c.config.Schema.TTLAttr),
			Enabled:       aws.Bool(true),
		},
	})
	return mapError(err, ErrTableNotFound)
}

// Put writes an item unconditionally (upsert by primary key).
func (c *Collection) Put(ctx context.Context, item map[string]types.AttributeValue) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.config.TableName),
		Item:      item,
	})
	return mapError(err, ErrNotInitialized)
}

// Get reads an item by id with a strongly consistent read.
// Returns ErrNotFound if the item doesn't exist.
func (c *Collection) Get(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.config.TableName),
		Key:            c.config.Schema.Key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err, ErrNotInitialized)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// Delete removes an item only if it exists and every attribute in expect
// still holds the given string value. Returns ErrConditionFailed otherwise.
func (c *Collection) Delete(ctx context.Context, id string, expect map[string]string) (map[string]types.AttributeValue, error) {
	expr, names, values := deleteCondition(c.config.Schema.HashKey, expect)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(c.config.TableName),
		Key:                       c.config.Schema.Key(id),
		ConditionExpression:       aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, mapError(err, ErrNotInitialized)
	}
	return out.Attributes, nil
}

// IndexEntry is one row of an ordering index query. The index is KEYS_ONLY,
// so it never carries payload.
type IndexEntry struct {
	ID          string
	Group       string
	OrderingKey string
}

// IndexQuery selects entries of one group with ordering key strictly below Before.
type IndexQuery struct {
	Group   string
	Before  string
	Forward bool
	Limit   int32
}

// QueryIndex runs a single ordered, bounded scan of the ordering index.
// Results are eventually consistent and may miss recent writes or include
// entries whose items were already deleted.
func (c *Collection) QueryIndex(ctx context.Context, q IndexQuery) ([]IndexEntry, error) {
	s := c.config.Schema

	input := &dynamodb.QueryInput{
		TableName:              aws.String(c.config.TableName),
		IndexName:              aws.String(c.config.IndexName),
		KeyConditionExpression: aws.String("#group = :group AND #order < :before"),
		ExpressionAttributeNames: map[string]string{
			"#group": s.GroupAttr,
			"#order": s.OrderAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":group":  &types.AttributeValueMemberS{Value: q.Group},
			":before": &types.AttributeValueMemberS{Value: q.Before},
		},
		ScanIndexForward:       aws.Bool(q.Forward),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.client.Query(ctx, input)
	if err != nil {
		return nil, mapError(err, ErrNotInitialized)
	}

	if out.ConsumedCapacity != nil {
		c.logger.Debug("index query",
			"group", q.Group,
			"forward", q.Forward,
			"count", out.Count,
			"capacity", aws.ToFloat64(out.ConsumedCapacity.CapacityUnits),
		)
	}

	entries := make([]IndexEntry, 0, len(out.Items))
	for _, raw := range out.Items {
		entries = append(entries, IndexEntry{
			ID:          stringAttr(raw, s.HashKey),
			Group:       stringAttr(raw, s.GroupAttr),
			OrderingKey: stringAttr(raw, s.OrderAttr),
		})
	}
	return entries, nil
}

// withTimeout applies OpTimeout to a single round trip.
func (c *Collection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.OpTimeout)
}
