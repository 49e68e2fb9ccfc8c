package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Tail dials a relay websocket endpoint and calls fn for every row until the
// relay closes the connection or ctx ends.
func Tail(ctx context.Context, url string, fn func(row string)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return fmt.Errorf("reading rows: %w", err)
		}
		if msgType == websocket.TextMessage {
			fn(string(msg))
		}
	}
}
