package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/geomark/dispatch-api/pkg/signature"
)

// SendResult carries the receiver's response for one attempt.
type SendResult struct {
	StatusCode int
}

// Sender performs the network call for a delivery attempt. The executor is
// written against this interface so tests can substitute a deterministic
// transport.
type Sender interface {
	Send(ctx context.Context, url string, payload []byte, sig string) (*SendResult, error)
}

// HTTPSender posts the signed payload to the endpoint URL.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send issues the POST. A non-2xx response is not an error at this layer;
// the executor interprets the status code. Errors are transport failures
// (timeout, connection refused, DNS).
func (s *HTTPSender) Send(ctx context.Context, url string, payload []byte, sig string) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, sig)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the body itself is not recorded.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return &SendResult{StatusCode: resp.StatusCode}, nil
}
