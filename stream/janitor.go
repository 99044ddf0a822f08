// Package stream provides DynamoDB Streams handlers for index maintenance.
//
// Tables written by kv/dynamokv with a NEW_AND_OLD_IMAGES stream can attach
// Handler.HandleIndexRepair as a Lambda to remove index records that a save
// left behind when an indexed field changed, or that outlived their document.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/kvdoc/document"
	"github.com/jacentio/kvdoc/internal/keyspace"
	"github.com/jacentio/kvdoc/kv"
	"github.com/jacentio/kvdoc/kv/dynamokv"
)

// Handler processes DynamoDB stream events for index repair.
type Handler struct {
	adapter  *document.Adapter
	registry *document.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. Only primary records of kinds
// present in registry are processed.
func NewHandler(adapter *document.Adapter, registry *document.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		adapter:  adapter,
		registry: registry,
		logger:   logger,
	}
}

// HandleIndexRepair processes DynamoDB stream events and removes index records
// that point at a document which no longer carries the indexed value.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleIndexRepair(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
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
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" && record.EventName != "REMOVE" {
		return nil
	}
	if h.registry == nil {
		return nil
	}

	key, err := StreamKey(record.Change.Keys)
	if err != nil {
		return fmt.Errorf("stream key: %w", err)
	}
	kind, ok := h.registry.KindOf(key)
	if !ok || len(kind.IndexedFields) == 0 {
		return nil
	}
	_, id, _ := keyspace.ParsePrimary(key)

	prev, err := h.payload(record.Change.OldImage)
	if err != nil || prev == nil {
		return err
	}
	var next map[string]any
	if record.EventName == "MODIFY" {
		if next, err = h.payload(record.Change.NewImage); err != nil {
			return err
		}
	}

	stale := document.StaleIndexes(kind.IndexedFields, prev, next)
	if len(stale) == 0 {
		return nil
	}

	// Events can arrive after later saves of the same id. Values the
	// document carries now still have live index records.
	current, err := h.adapter.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read current document: %w", err)
	}
	if current != nil {
		live := document.StaleIndexes(kind.IndexedFields, prev, current.Values)
		for field := range stale {
			if _, ok := live[field]; !ok {
				delete(stale, field)
			}
		}
		if len(stale) == 0 {
			h.logger.Debug("index values still in use",
				"kind", kind.Name,
				"id", id,
				"event", record.EventName,
			)
			return nil
		}
	}

	h.logger.Info("repairing index records",
		"kind", kind.Name,
		"id", id,
		"event", record.EventName,
		"ttl", getNumberAttr(record.Change.OldImage, "ttl"),
		"staleCount", len(stale),
	)

	removed := 0
	for field, value := range stale {
		deleted, err := h.adapter.DeleteIndexIfOwned(ctx, kind.KeyPath, field, value, id)
		if err != nil {
			return fmt.Errorf("delete index %s=%q: %w", field, value, err)
		}
		if deleted {
			removed++
		}
	}

	h.logger.Info("index repair completed",
		"kind", kind.Name,
		"id", id,
		"removed", removed,
	)
	return nil
}

// payload decodes the stored document of a stream image, or returns nil when
// the image has none.
func (h *Handler) payload(image map[string]events.DynamoDBAttributeValue) (map[string]any, error) {
	data := getBinaryAttr(image, "v")
	if data == nil {
		return nil, nil
	}
	return h.adapter.Decode(data)
}

// StreamKey converts the key of a stream record written by kv/dynamokv back
// into a kv.Key.
func StreamKey(keys map[string]events.DynamoDBAttributeValue) (kv.Key, error) {
	return dynamokv.JoinKey(getStringAttr(keys, "pk"), getStringAttr(keys, "sk"))
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getBinaryAttr extracts a binary attribute from a DynamoDB stream image.
func getBinaryAttr(image map[string]events.DynamoDBAttributeValue, key string) []byte {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeBinary {
		return v.Binary()
	}
	return nil
}
