package memddb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func newTable(t *testing.T) *DB {
	t.Helper()
	db := New()
	_, err := db.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String("t"),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String("by-group"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("g"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("o"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		}},
	})
	require.NoError(t, err)
	return db
}

func put(t *testing.T, db *DB, pk, g, o string) {
	t.Helper()
	_, err := db.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String("t"),
		Item:      map[string]types.AttributeValue{"pk": s(pk), "g": s(g), "o": s(o), "extra": s("x")},
	})
	require.NoError(t, err)
}

func query(t *testing.T, db *DB, forward bool, limit int32) []string {
	t.Helper()
	out, err := db.Query(context.Background(), &dynamodb.QueryInput{
		TableName:                 aws.String("t"),
		IndexName:                 aws.String("by-group"),
		KeyConditionExpression:    aws.String("#g = :g AND #o < :o"),
		ExpressionAttributeNames:  map[string]string{"#g": "g", "#o": "o"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":g": s("a"), ":o": s("9")},
		ScanIndexForward:          aws.Bool(forward),
		Limit:                     aws.Int32(limit),
	})
	require.NoError(t, err)

	var ids []string
	for _, item := range out.Items {
		assert.NotContains(t, item, "extra", "KEYS_ONLY projection")
		ids = append(ids, item["pk"].(*types.AttributeValueMemberS).Value)
	}
	return ids
}

func TestQuery_OrderAndLimit(t *testing.T) {
	db := newTable(t)
	put(t, db, "a1", "a", "1")
	put(t, db, "a3", "a", "3")
	put(t, db, "a2", "a", "2")
	put(t, db, "b1", "b", "1")
	put(t, db, "a9", "a", "9") // excluded by the bound

	assert.Equal(t, []string{"a1", "a2", "a3"}, query(t, db, true, 10))
	assert.Equal(t, []string{"a3", "a2"}, query(t, db, false, 2))
}

func TestLagAndSync(t *testing.T) {
	db := newTable(t)
	put(t, db, "a1", "a", "1")

	db.SetLag(true)
	put(t, db, "a2", "a", "2")
	assert.Equal(t, []string{"a1"}, query(t, db, true, 10))
	assert.Equal(t, 2, db.Len("t"))

	db.Sync()
	assert.Equal(t, []string{"a1", "a2"}, query(t, db, true, 10))

	_, err := db.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String("t"),
		Key:       map[string]types.AttributeValue{"pk": s("a2")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, query(t, db, true, 10), "index still lists deleted item")

	db.SetLag(false)
	assert.Equal(t, []string{"a1"}, query(t, db, true, 10))
}

func TestRawDelete_LeavesIndexEntry(t *testing.T) {
	db := newTable(t)
	put(t, db, "a1", "a", "1")

	db.RawDelete("t", "a1")

	assert.Zero(t, db.Len("t"))
	assert.Equal(t, []string{"a1"}, query(t, db, true, 10))
}

func TestConditionalDelete(t *testing.T) {
	db := newTable(t)
	put(t, db, "a1", "a", "1")
	ctx := context.Background()

	del := func(order string) error {
		_, err := db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String("t"),
			Key:                       map[string]types.AttributeValue{"pk": s("a1")},
			ConditionExpression:       aws.String("attribute_exists(#pk) AND #o = :o"),
			ExpressionAttributeNames:  map[string]string{"#pk": "pk", "#o": "o"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":o": s(order)},
		})
		return err
	}

	var condErr *types.ConditionalCheckFailedException
	require.ErrorAs(t, del("2"), &condErr)
	require.NoError(t, del("1"))
	require.ErrorAs(t, del("1"), &condErr, "already gone")
}

func TestErrors(t *testing.T) {
	db := newTable(t)
	ctx := context.Background()

	_, err := db.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("missing"), Key: map[string]types.AttributeValue{"pk": s("x")}})
	var notFound *types.ResourceNotFoundException
	assert.ErrorAs(t, err, &notFound)

	_, err = db.CreateTable(ctx, &dynamodb.CreateTableInput{TableName: aws.String("t")})
	var inUse *types.ResourceInUseException
	assert.ErrorAs(t, err, &inUse)

	_, err = db.Query(ctx, &dynamodb.QueryInput{TableName: aws.String("t"), IndexName: aws.String("nope")})
	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ValidationException", apiErr.ErrorCode())

	boom := errors.New("boom")
	db.FailNext("GetItem", boom)
	_, err = db.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("t"), Key: map[string]types.AttributeValue{"pk": s("x")}})
	assert.ErrorIs(t, err, boom)

	out, err := db.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String("t"), Key: map[string]types.AttributeValue{"pk": s("x")}})
	require.NoError(t, err, "failure is injected once")
	assert.Nil(t, out.Item)
	assert.Equal(t, 3, db.Calls("GetItem"))
}

func TestUpdateTimeToLive(t *testing.T) {
	db := newTable(t)

	_, err := db.UpdateTimeToLive(context.Background(), &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String("t"),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("ttl"),
			Enabled:       aws.Bool(true),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ttl", db.TTLAttribute("t"))
}
