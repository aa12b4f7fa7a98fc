// Package memddb is an in-memory stand-in for the DynamoDB operations used by
// collections. Global secondary indexes are eventually consistent: with lag
// enabled, index changes queue up until Sync is called.
//
// Expressions are supported only in the shapes collections emit: clauses
// joined by AND, each "name op :value" (op one of = < <= > >=),
// attribute_exists(name) or attribute_not_exists(name). Comparisons are
// string comparisons.
package memddb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DB is an in-memory DynamoDB double. Safe for concurrent use.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table
	lag    bool
	fail   map[string]error
	calls  map[string]int
}

type table struct {
	desc    types.TableDescription
	hashKey string
	items   map[string]map[string]types.AttributeValue
	// index holds the visible GSI view of items, by primary key.
	index   map[string]map[string]types.AttributeValue
	pending []indexOp
	ttlAttr string
}

type indexOp struct {
	id   string
	item map[string]types.AttributeValue // nil = remove
}

// New creates an empty DB with an immediately consistent index.
func New() *DB {
	return &DB{
		tables: make(map[string]*table),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetLag toggles index lag. While on, index updates wait for Sync.
func (db *DB) SetLag(on bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.lag = on
	if !on {
		db.syncLocked()
	}
}

// Sync applies all pending index updates.
func (db *DB) Sync() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.syncLocked()
}

func (db *DB) syncLocked() {
	for _, t := range db.tables {
		for _, op := range t.pending {
			t.applyIndex(op)
		}
		t.pending = nil
	}
}

// FailNext makes the next call to op (e.g. "GetItem") return err.
func (db *DB) FailNext(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fail[op] = err
}

// Calls returns how many times op was invoked.
func (db *DB) Calls(op string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[op]
}

// Len returns the number of items stored in a table.
func (db *DB) Len(tableName string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[tableName]
	if !ok {
		return 0
	}
	return len(t.items)
}

// RawDelete removes an item from the table without touching the index,
// as if another writer deleted it and the index has not caught up.
func (db *DB) RawDelete(tableName, id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[tableName]; ok {
		delete(t.items, id)
	}
}

// TTLAttribute returns the attribute TTL was enabled on, or "".
func (db *DB) TTLAttribute(tableName string) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[tableName]; ok {
		return t.ttlAttr
	}
	return ""
}

// enter records a call and returns an injected failure, if any.
func (db *DB) enter(op string) error {
	db.calls[op]++
	if err, ok := db.fail[op]; ok {
		delete(db.fail, op)
		return err
	}
	return nil
}

func (db *DB) table(name *string) (*table, error) {
	t, ok := db.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", aws.ToString(name))),
		}
	}
	return t, nil
}

// CreateTable implements store.Client.
func (db *DB) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("CreateTable"); err != nil {
		return nil, err
	}

	name := aws.ToString(in.TableName)
	if _, exists := db.tables[name]; exists {
		return nil, &types.ResourceInUseException{
			Message: aws.String("Cannot create preexisting table"),
		}
	}

	t := &table{
		items: make(map[string]map[string]types.AttributeValue),
		index: make(map[string]map[string]types.AttributeValue),
	}
	for _, k := range in.KeySchema {
		if k.KeyType == types.KeyTypeHash {
			t.hashKey = aws.ToString(k.AttributeName)
		}
	}

	var gsis []types.GlobalSecondaryIndexDescription
	for _, g := range in.GlobalSecondaryIndexes {
		gsis = append(gsis, types.GlobalSecondaryIndexDescription{
			IndexName:   g.IndexName,
			KeySchema:   g.KeySchema,
			Projection:  g.Projection,
			IndexStatus: types.IndexStatusActive,
		})
	}

	t.desc = types.TableDescription{
		TableName:              in.TableName,
		TableStatus:            types.TableStatusActive,
		KeySchema:              in.KeySchema,
		AttributeDefinitions:   in.AttributeDefinitions,
		GlobalSecondaryIndexes: gsis,
		StreamSpecification:    in.StreamSpecification,
		ItemCount:              aws.Int64(0),
	}
	if in.BillingMode != "" {
		t.desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: in.BillingMode}
	}
	db.tables[name] = t

	desc := t.desc
	return &dynamodb.CreateTableOutput{TableDescription: &desc}, nil
}

// DescribeTable implements store.Client.
func (db *DB) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("DescribeTable"); err != nil {
		return nil, err
	}

	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	desc := t.desc
	desc.ItemCount = aws.Int64(int64(len(t.items)))
	return &dynamodb.DescribeTableOutput{Table: &desc}, nil
}

// UpdateTimeToLive implements store.Client.
func (db *DB) UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("UpdateTimeToLive"); err != nil {
		return nil, err
	}

	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if in.TimeToLiveSpecification != nil && aws.ToBool(in.TimeToLiveSpecification.Enabled) {
		t.ttlAttr = aws.ToString(in.TimeToLiveSpecification.AttributeName)
	} else {
		t.ttlAttr = ""
	}
	return &dynamodb.UpdateTimeToLiveOutput{TimeToLiveSpecification: in.TimeToLiveSpecification}, nil
}

// PutItem implements store.Client.
func (db *DB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("PutItem"); err != nil {
		return nil, err
	}

	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	id, ok := in.Item[t.hashKey].(*types.AttributeValueMemberS)
	if !ok {
		return nil, validationError("missing hash key " + t.hashKey)
	}

	existing := t.items[id.Value]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(aws.ToString(in.ConditionExpression), existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed()
		}
	}

	item := copyItem(in.Item)
	t.items[id.Value] = item
	db.indexLocked(t, indexOp{id: id.Value, item: item})
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem implements store.Client. Reads are always strongly consistent.
func (db *DB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("GetItem"); err != nil {
		return nil, err
	}

	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	id, ok := in.Key[t.hashKey].(*types.AttributeValueMemberS)
	if !ok {
		return nil, validationError("missing hash key " + t.hashKey)
	}
	item, ok := t.items[id.Value]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// DeleteItem implements store.Client.
func (db *DB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("DeleteItem"); err != nil {
		return nil, err
	}

	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}
	id, ok := in.Key[t.hashKey].(*types.AttributeValueMemberS)
	if !ok {
		return nil, validationError("missing hash key " + t.hashKey)
	}

	existing := t.items[id.Value]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(aws.ToString(in.ConditionExpression), existing, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed()
		}
	}

	out := &dynamodb.DeleteItemOutput{}
	if existing != nil {
		delete(t.items, id.Value)
		db.indexLocked(t, indexOp{id: id.Value})
		if in.ReturnValues == types.ReturnValueAllOld {
			out.Attributes = copyItem(existing)
		}
	}
	return out, nil
}

// Query implements store.Client for global secondary index queries.
func (db *DB) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("Query"); err != nil {
		return nil, err
	}

	t, err := db.table(in.TableName)
	if err != nil {
		return nil, err
	}

	var gsi *types.GlobalSecondaryIndexDescription
	for i := range t.desc.GlobalSecondaryIndexes {
		if aws.ToString(t.desc.GlobalSecondaryIndexes[i].IndexName) == aws.ToString(in.IndexName) {
			gsi = &t.desc.GlobalSecondaryIndexes[i]
		}
	}
	if gsi == nil {
		return nil, validationError("The table does not have the specified index: " + aws.ToString(in.IndexName))
	}
	if aws.ToBool(in.ConsistentRead) {
		return nil, validationError("Consistent reads are not supported on global secondary indexes")
	}

	var rangeKey string
	for _, k := range gsi.KeySchema {
		if k.KeyType == types.KeyTypeRange {
			rangeKey = aws.ToString(k.AttributeName)
		}
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t.index {
		ok, err := evalCondition(aws.ToString(in.KeyConditionExpression), item, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, projectKeys(item, t.hashKey, gsi.KeySchema))
		}
	}

	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		a, b := stringOf(matched[i][rangeKey]), stringOf(matched[j][rangeKey])
		if a == b {
			a, b = stringOf(matched[i][t.hashKey]), stringOf(matched[j][t.hashKey])
		}
		if forward {
			return a < b
		}
		return a > b
	})

	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}

	out := &dynamodb.QueryOutput{
		Items:        matched,
		Count:        int32(len(matched)),
		ScannedCount: int32(len(matched)),
	}
	if in.ReturnConsumedCapacity == types.ReturnConsumedCapacityTotal {
		out.ConsumedCapacity = &types.ConsumedCapacity{
			TableName:     in.TableName,
			CapacityUnits: aws.Float64(0.5),
		}
	}
	return out, nil
}

// indexLocked applies or queues an index update.
func (db *DB) indexLocked(t *table, op indexOp) {
	if db.lag {
		t.pending = append(t.pending, op)
		return
	}
	t.applyIndex(op)
}

func (t *table) applyIndex(op indexOp) {
	if op.item == nil {
		delete(t.index, op.id)
		return
	}
	t.index[op.id] = op.item
}

func projectKeys(item map[string]types.AttributeValue, hashKey string, keys []types.KeySchemaElement) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{hashKey: item[hashKey]}
	for _, k := range keys {
		name := aws.ToString(k.AttributeName)
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

// evalCondition evaluates an AND-joined condition against item (nil = absent).
func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	resolve := func(n string) string {
		if strings.HasPrefix(n, "#") {
			return names[n]
		}
		return n
	}

	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)

		if inner, ok := strings.CutPrefix(clause, "attribute_exists("); ok {
			_, exists := item[resolve(strings.TrimSuffix(inner, ")"))]
			if !exists {
				return false, nil
			}
			continue
		}
		if inner, ok := strings.CutPrefix(clause, "attribute_not_exists("); ok {
			if _, exists := item[resolve(strings.TrimSuffix(inner, ")"))]; exists {
				return false, nil
			}
			continue
		}

		parts := strings.Fields(clause)
		if len(parts) != 3 {
			return false, validationError("unsupported condition: " + clause)
		}
		want, ok := values[parts[2]]
		if !ok {
			return false, validationError("missing expression value " + parts[2])
		}
		got, ok := item[resolve(parts[0])]
		if !ok {
			return false, nil
		}
		a, b := stringOf(got), stringOf(want)
		var match bool
		switch parts[1] {
		case "=":
			match = a == b
		case "<":
			match = a < b
		case "<=":
			match = a <= b
		case ">":
			match = a > b
		case ">=":
			match = a >= b
		default:
			return false, validationError("unsupported operator " + parts[1])
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func stringOf(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return av.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}

// validationError mimics the service's ValidationException, which the SDK
// surfaces as a generic API error.
func validationError(msg string) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: msg,
		Fault:   smithy.FaultClient,
	}
}
