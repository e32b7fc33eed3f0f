package session

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	relayerrors "github.com/navaai/relay/pkg/errors"
)

// SSEDialer opens a one-way server-sent-events stream to the agent backend.
// The prompt travels as a query parameter; completion is the named "end"
// event rather than a sentinel line. Send always fails, so the controller
// treats input requests on this transport as protocol anomalies.
type SSEDialer struct {
	// URL is the stream endpoint, e.g. http://127.0.0.1:8000/stream.
	URL string

	// Client overrides the HTTP client. Nil means http.DefaultClient with no
	// timeout; the stream stays open for the life of the run.
	Client *http.Client

	// DialTimeout bounds the initial response. Zero means 15s.
	DialTimeout time.Duration
}

func (d *SSEDialer) Dial(ctx context.Context, prompt string) (Transport, error) {
	endpoint, err := url.Parse(d.URL)
	if err != nil {
		return nil, relayerrors.Wrap(err, relayerrors.ErrCodeTransportOpen, "parse stream endpoint")
	}
	q := endpoint.Query()
	q.Set("prompt", prompt)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, relayerrors.Wrap(err, relayerrors.ErrCodeTransportOpen, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	type result struct {
		resp *http.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := client.Do(req)
		ch <- result{resp, err}
	}()

	// If we give up waiting, the late response still needs its body closed.
	abandon := func() {
		go func() {
			if r := <-ch; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
	}

	var resp *http.Response
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, relayerrors.Wrap(r.err, relayerrors.ErrCodeTransportOpen, "open agent stream").
				WithContext("url", d.URL).
				WithRetryable(true)
		}
		resp = r.resp
	case <-time.After(timeout):
		abandon()
		return nil, relayerrors.New(relayerrors.ErrCodeTransportOpen, "agent stream handshake timed out").
			WithContext("url", d.URL).
			WithRetryable(true)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, relayerrors.New(relayerrors.ErrCodeTransportOpen, "agent stream rejected").
			WithContext("status", resp.Status)
	}

	return &sseTransport{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

type sseTransport struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	ended   bool
}

// Recv returns the payload of the next data frame. A named "end" event closes
// the stream cleanly.
func (t *sseTransport) Recv(ctx context.Context) (string, error) {
	if t.ended {
		return "", io.EOF
	}

	for t.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := t.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			if strings.TrimSpace(strings.TrimPrefix(line, "event:")) == "end" {
				t.ended = true
				return "", io.EOF
			}
		case strings.HasPrefix(line, "data:"):
			return strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "), nil
		}
		// Comments and blank keep-alive lines are skipped.
	}

	if err := t.scanner.Err(); err != nil {
		return "", relayerrors.Wrap(err, relayerrors.ErrCodeTransportDropped, "read agent stream").
			WithRetryable(true)
	}
	return "", relayerrors.New(relayerrors.ErrCodeTransportDropped, "agent stream closed without end event").
		WithRetryable(true)
}

// Send is unsupported: server-sent events are one-way.
func (t *sseTransport) Send(ctx context.Context, frame string) error {
	return relayerrors.New(relayerrors.ErrCodeTransportSend, "stream transport is receive-only")
}

func (t *sseTransport) Close() error {
	return t.body.Close()
}
