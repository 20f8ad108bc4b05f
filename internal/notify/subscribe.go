package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
)

// EventsPath is the server route of the notice stream.
const EventsPath = "/api/events"

// EventsURL turns a server base URL into the WebSocket URL of the notice
// stream.
func EventsURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + EventsPath
}

// Subscribe connects to the notice stream with token and calls fn for every
// message until ctx is done or the connection drops. Connection failures
// are reported as errs.ErrSyncUnavailable; a cancelled ctx returns
// ctx.Err().
func Subscribe(ctx context.Context, url, token string, fn func(Message)) error {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("subscribe: %w", errs.ErrAuth)
		}
		return fmt.Errorf("failed to connect to %s: %v: %w", url, err, errs.ErrSyncUnavailable)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || websocket.CloseStatus(err) != -1 {
				return fmt.Errorf("notice stream closed: %v: %w", err, errs.ErrSyncUnavailable)
			}
			return fmt.Errorf("failed to read notice: %v: %w", err, errs.ErrSyncUnavailable)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		fn(msg)
	}
}
