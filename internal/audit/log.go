package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"veriflow.io/internal/auth"
	"veriflow.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event is a structured audit record. Entity and EntityID name the domain
// object the event concerns (a tenant, template, tracking record, reminder
// or contact); Fields carries event-specific detail such as tenant_id or the
// new status.
type Event struct {
	Event    string
	Entity   string
	EntityID string
	Fields   map[string]string
}

// Log writes the audit record as one JSON line through the shared obs
// logger, enriched with the request id and acting user from the context.
func Log(ctx context.Context, evt Event) error {
	name := strings.TrimSpace(evt.Event)
	if name == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": name,
	}
	if evt.Entity != "" {
		entry["entity"] = evt.Entity
	}
	if evt.EntityID != "" {
		entry["entity_id"] = evt.EntityID
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	fields := make(map[string]string, len(evt.Fields))
	for k, v := range evt.Fields {
		fields[k] = v
	}
	entry["fields"] = fields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
