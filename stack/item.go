package stack

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbstack/internal/orderkey"
	"github.com/jacentio/ddbstack/store"
)

// Item is one stack element.
type Item[T any] struct {
	// ID is the primary key, "<stack name>@<ordering key>".
	ID string

	// Group is the stack name.
	Group string

	// OrderingKey determines stack order.
	OrderingKey string

	// Tag is the caller-supplied label.
	Tag string

	// Value is the payload.
	Value T

	// ExpiresAt is zero unless the stack sets an item TTL.
	ExpiresAt time.Time
}

// PushedAt returns the push time encoded in the ordering key.
func (i Item[T]) PushedAt() time.Time {
	t, _ := orderkey.Time(i.OrderingKey)
	return t
}

// Option is either Some(item) or None. It never holds a zero item that must
// be told apart from a real one.
type Option[T any] struct {
	item Item[T]
	ok   bool
}

// Some wraps a present item.
func Some[T any](item Item[T]) Option[T] {
	return Option[T]{item: item, ok: true}
}

// None is the absent result.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Present reports whether an item is held.
func (o Option[T]) Present() bool {
	return o.ok
}

// Get returns the item and whether it is present.
func (o Option[T]) Get() (Item[T], bool) {
	return o.item, o.ok
}

// MustGet returns the item or panics if absent.
func (o Option[T]) MustGet() Item[T] {
	if !o.ok {
		panic("stack: MustGet on None")
	}
	return o.item
}

// encodeItem converts an item to DynamoDB attributes under schema s.
func encodeItem[T any](s store.Schema, item Item[T]) (map[string]types.AttributeValue, error) {
	value, err := attributevalue.Marshal(item.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	raw := map[string]types.AttributeValue{
		s.HashKey:   &types.AttributeValueMemberS{Value: item.ID},
		s.GroupAttr: &types.AttributeValueMemberS{Value: item.Group},
		s.OrderAttr: &types.AttributeValueMemberS{Value: item.OrderingKey},
		s.TagAttr:   &types.AttributeValueMemberS{Value: item.Tag},
		s.ValueAttr: value,
	}
	if !item.ExpiresAt.IsZero() {
		raw[s.TTLAttr] = store.TTLValue(item.ExpiresAt)
	}
	return raw, nil
}

// DecodeItem converts raw DynamoDB attributes, for example a change feed
// image, into an Item.
func DecodeItem[T any](s store.Schema, raw map[string]types.AttributeValue) (Item[T], error) {
	item := Item[T]{
		ID:          stringAttr(raw, s.HashKey),
		Group:       stringAttr(raw, s.GroupAttr),
		OrderingKey: stringAttr(raw, s.OrderAttr),
		Tag:         stringAttr(raw, s.TagAttr),
	}

	if v, ok := raw[s.ValueAttr]; ok {
		if err := attributevalue.Unmarshal(v, &item.Value); err != nil {
			return Item[T]{}, fmt.Errorf("unmarshal value: %w", err)
		}
	}
	if v, ok := raw[s.TTLAttr]; ok {
		var secs int64
		if err := attributevalue.Unmarshal(v, &secs); err == nil && secs > 0 {
			item.ExpiresAt = time.Unix(secs, 0)
		}
	}
	return item, nil
}

func stringAttr(raw map[string]types.AttributeValue, key string) string {
	if v, ok := raw[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
