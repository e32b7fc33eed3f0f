package session

import (
	"context"
	"errors"
	"io"
	"time"

	"nhooyr.io/websocket"

	relayerrors "github.com/navaai/relay/pkg/errors"
)

// WSDialer opens a duplex WebSocket stream to the agent backend. The prompt is
// the first text frame after the upgrade; the backend streams log lines back
// and terminates with the sentinel frame.
type WSDialer struct {
	// URL is the generate endpoint, e.g. ws://127.0.0.1:8000/generate.
	URL string

	// DialTimeout bounds the upgrade handshake. Zero means 15s.
	DialTimeout time.Duration
}

func (d *WSDialer) Dial(ctx context.Context, prompt string) (Transport, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, d.URL, nil)
	if err != nil {
		return nil, relayerrors.Wrap(err, relayerrors.ErrCodeTransportOpen, "dial agent backend").
			WithContext("url", d.URL).
			WithRetryable(true)
	}
	conn.SetReadLimit(32 << 20)

	if err := conn.Write(ctx, websocket.MessageText, []byte(prompt)); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "prompt send failed")
		return nil, relayerrors.Wrap(err, relayerrors.ErrCodeTransportSend, "send prompt")
	}

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Recv(ctx context.Context) (string, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return "", io.EOF
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", relayerrors.Wrap(err, relayerrors.ErrCodeTransportDropped, "read agent stream").
			WithRetryable(true)
	}
	return string(data), nil
}

func (t *wsTransport) Send(ctx context.Context, frame string) error {
	if err := t.conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		return relayerrors.Wrap(err, relayerrors.ErrCodeTransportSend, "send frame")
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session closed")
}
