package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired checks if an item's TTL attribute is at or before now.
// DynamoDB removes expired items lazily, so reads must filter them.
func IsExpired(item map[string]types.AttributeValue, attr string, now time.Time) bool {
	ttlAttr, exists := item[attr]
	if !exists {
		return false // No TTL = never expires
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// TTLValue encodes an expiry time as the unix-seconds number DynamoDB TTL expects.
// Sub-second expiries are rounded up; see ExpiryTime.
func TTLValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(ExpiryTime(t).Unix(), 10)}
}

// ExpiryTime returns t rounded up to the whole second it is stored as.
// Rounding down would expire items before their deadline.
func ExpiryTime(t time.Time) time.Time {
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return time.Unix(secs, 0)
}
