package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"dework/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

// streamEvents pushes committed events as JSON text frames. ?type= takes a
// comma separated list of type prefixes, e.g. "deposit.,pool.".
func (a *api) streamEvents(w http.ResponseWriter, r *http.Request) {
	var prefixes []string
	for _, p := range strings.Split(r.URL.Query().Get("type"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	origins := a.wsOrig
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: hostPatterns(origins)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	events, cancel := a.node.Subscribe(wsBuffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !matchesPrefix(evt.Type, prefixes) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				if websocket.CloseStatus(err) == -1 {
					_ = conn.Close(websocket.StatusInternalError, "stream error")
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func matchesPrefix(eventType string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

// hostPatterns strips schemes since the websocket origin check matches hosts.
func hostPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if i := strings.Index(origin, "://"); i >= 0 {
			origin = origin[i+3:]
		}
		if origin = strings.TrimRight(origin, "/"); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
