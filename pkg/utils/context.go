package utils

import (
	"context"
)

type contextKey string

const (
	EventIDKey   contextKey = "event_id"
	EventTypeKey contextKey = "event_type"
)

// SetEventContext tags ctx with the provider event being processed so
// downstream logs (dispatcher, repositories) can correlate.
func SetEventContext(ctx context.Context, eventID, eventType string) context.Context {
	ctx = context.WithValue(ctx, EventIDKey, eventID)
	ctx = context.WithValue(ctx, EventTypeKey, eventType)
	return ctx
}

func GetEventIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(EventIDKey)
	if val == nil {
		return "", false
	}

	eventID, ok := val.(string)
	return eventID, ok
}

func GetEventTypeFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(EventTypeKey)
	if val == nil {
		return "", false
	}

	eventType, ok := val.(string)
	return eventType, ok
}
