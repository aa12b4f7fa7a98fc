package store

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Schema describes the physical layout shared by every collection in a table.
type Schema struct {
	// HashKey is the primary key attribute ("<group>@<ordering key>").
	HashKey string

	// GroupAttr holds the collection name and is the ordering index hash key.
	GroupAttr string

	// OrderAttr holds the ordering key and is the ordering index range key.
	OrderAttr string

	// TagAttr holds the caller-supplied label.
	TagAttr string

	// ValueAttr holds the payload.
	ValueAttr string

	// TTLAttr holds the optional expiry in unix seconds.
	TTLAttr string

	// BillingMode defaults to PAY_PER_REQUEST.
	BillingMode types.BillingMode

	// SSE enables server-side encryption at rest.
	SSE bool
}

// DefaultSchema returns the standard collection layout.
func DefaultSchema() Schema {
	return Schema{
		HashKey:     "pk",
		GroupAttr:   "meta_id",
		OrderAttr:   "meta_order",
		TagAttr:     "tag",
		ValueAttr:   "value",
		TTLAttr:     "ttl",
		BillingMode: types.BillingModePayPerRequest,
		SSE:         true,
	}
}

// fill replaces empty fields with defaults. SSE is left alone; a zero
// Schema gets the full defaults instead.
func (s *Schema) fill() {
	if *s == (Schema{}) {
		*s = DefaultSchema()
		return
	}
	d := DefaultSchema()
	if s.HashKey == "" {
		s.HashKey = d.HashKey
	}
	if s.GroupAttr == "" {
		s.GroupAttr = d.GroupAttr
	}
	if s.OrderAttr == "" {
		s.OrderAttr = d.OrderAttr
	}
	if s.TagAttr == "" {
		s.TagAttr = d.TagAttr
	}
	if s.ValueAttr == "" {
		s.ValueAttr = d.ValueAttr
	}
	if s.TTLAttr == "" {
		s.TTLAttr = d.TTLAttr
	}
	if s.BillingMode == "" {
		s.BillingMode = d.BillingMode
	}
}

// WithDefaults returns s with empty fields set to their defaults, as
// NewCollection applies them.
func (s Schema) WithDefaults() Schema {
	s.fill()
	return s
}

// Key returns the primary key for an item id.
func (s Schema) Key(id string) PK {
	return PK{s.HashKey: &types.AttributeValueMemberS{Value: id}}
}

// CreateTableInput returns the default table parameters: the primary key,
// billing and encryption. Index definitions are merged in by Collection.Initialize.
func (s Schema) CreateTableInput(table string) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(s.HashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(s.HashKey), KeyType: types.KeyTypeHash},
		},
		BillingMode: s.BillingMode,
	}
	if s.SSE {
		input.SSESpecification = &types.SSESpecification{Enabled: aws.Bool(true)}
	}
	return input
}

// Index is a global secondary index together with the attribute
// definitions its keys require.
type Index struct {
	GSI        types.GlobalSecondaryIndex
	Attributes []types.AttributeDefinition
}

// Name returns the index name.
func (i Index) Name() string {
	return aws.ToString(i.GSI.IndexName)
}

// OrderIndex returns the KEYS_ONLY index on (GroupAttr, OrderAttr) used for
// ordered traversal of one collection.
func (s Schema) OrderIndex(name string) Index {
	return Index{
		GSI: types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(s.GroupAttr), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(s.OrderAttr), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		},
		Attributes: []types.AttributeDefinition{
			{AttributeName: aws.String(s.GroupAttr), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(s.OrderAttr), AttributeType: types.ScalarAttributeTypeS},
		},
	}
}
