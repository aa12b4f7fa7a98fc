// Package stream turns DynamoDB Streams records from a collections table
// into stack change events.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/ddbstack/internal/orderkey"
	"github.com/jacentio/ddbstack/store"
)

// EventKind classifies a change.
type EventKind string

const (
	// EventPushed is emitted for a newly inserted item.
	EventPushed EventKind = "pushed"

	// EventPopped is emitted for an item deleted by a pop.
	EventPopped EventKind = "popped"

	// EventExpired is emitted for an item removed by DynamoDB TTL.
	EventExpired EventKind = "expired"
)

// Event describes one push or removal on a collection.
type Event struct {
	Kind        EventKind
	Collection  string
	ID          string
	OrderingKey string
	Tag         string
	EventID     string

	// At is the approximate time the change was recorded by DynamoDB.
	At time.Time

	// Item is the full image (new image for pushes, old image for removals),
	// or just the key when the stream view carries no image. Decode payloads
	// with stack.DecodeItem.
	Item map[string]types.AttributeValue
}

// Listener receives change events.
type Listener interface {
	OnEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

// OnEvent calls f.
func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Handler processes DynamoDB stream events for registered collections.
type Handler struct {
	registry *store.Registry
	schema   store.Schema
	listener Listener
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. Empty schema fields take their
// defaults. A nil registry accepts every collection; a nil logger uses
// slog.Default().
func NewHandler(registry *store.Registry, schema store.Schema, listener Listener, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		schema:   schema.WithDefaults(),
		listener: listener,
		logger:   logger,
	}
}

// HandleStackEvents dispatches stream records to the listener.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleStackEvents(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	ev, ok := h.toEvent(record)
	if !ok {
		return nil
	}
	if h.registry != nil && !h.registry.Has(ev.Collection) {
		return nil
	}

	h.logger.Debug("stack event",
		"kind", ev.Kind,
		"collection", ev.Collection,
		"id", ev.ID,
	)

	if h.listener == nil {
		return nil
	}
	if err := h.listener.OnEvent(ctx, ev); err != nil {
		return fmt.Errorf("listener %s %s: %w", ev.Kind, ev.ID, err)
	}
	return nil
}

// toEvent maps a record to an Event. MODIFY records are ignored; stack
// items are never updated in place.
func (h *Handler) toEvent(record events.DynamoDBEventRecord) (Event, bool) {
	var kind EventKind
	var image map[string]events.DynamoDBAttributeValue

	switch record.EventName {
	case string(events.DynamoDBOperationTypeInsert):
		kind = EventPushed
		image = record.Change.NewImage
	case string(events.DynamoDBOperationTypeRemove):
		kind = EventPopped
		if isTTLRemoval(record) {
			kind = EventExpired
		}
		image = record.Change.OldImage
	default:
		return Event{}, false
	}

	if len(image) == 0 {
		image = record.Change.Keys
	}

	id := getStringAttr(image, h.schema.HashKey)
	if id == "" {
		id = getStringAttr(record.Change.Keys, h.schema.HashKey)
	}
	collection := getStringAttr(image, h.schema.GroupAttr)
	key := getStringAttr(image, h.schema.OrderAttr)
	if collection == "" || key == "" {
		// KEYS_ONLY stream view: recover both from the item id.
		name, k, ok := orderkey.SplitID(id)
		if !ok {
			return Event{}, false
		}
		collection, key = name, k
	}

	return Event{
		Kind:        kind,
		Collection:  collection,
		ID:          id,
		OrderingKey: key,
		Tag:         getStringAttr(image, h.schema.TagAttr),
		EventID:     record.EventID,
		At:          record.Change.ApproximateCreationDateTime.Time,
		Item:        ConvertStreamImage(image),
	}, true
}

// isTTLRemoval reports whether DynamoDB's TTL process deleted the item.
func isTTLRemoval(record events.DynamoDBEventRecord) bool {
	return record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" &&
		record.UserIdentity.PrincipalID == "dynamodb.amazonaws.com"
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamImage converts a DynamoDB stream image to SDK attribute values.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttr(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttr(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttr(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertStreamImage(v.Map())}
	}
	return nil
}
