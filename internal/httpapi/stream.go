package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// Stream serves the compliance activity feed over Server-Sent Events. Each
// frame is a named event whose data is the JSON-encoded stream.Event. The
// feed is scoped to the tenant named in X-Tenant-ID; events for other
// tenants are not forwarded.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Open the stream with a comment so proxies flush headers immediately.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	for event := range ch {
		if event.TenantID != tenantID {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: "))
		_, _ = w.Write([]byte(event.Type))
		_, _ = w.Write([]byte("\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
