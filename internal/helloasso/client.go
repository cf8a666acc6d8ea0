// Package helloasso talks to the HelloAsso v5 API: OAuth2 token acquisition,
// checkout-intent creation and the post-redirect payment verification. All
// calls are synchronous with a bounded timeout and nothing is retried; a
// failure surfaces to the caller, who may re-initiate the payment.
package helloasso

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edupay/helloasso-gateway/internal/audit"
)

// Client is the HelloAsso API client. Credentials are not held here: every
// operation receives a freshly loaded settings.Gateway so credential changes
// take effect immediately.
type Client struct {
	HTTP  *http.Client
	Audit audit.Recorder
	Log   zerolog.Logger
}

// NewClient builds a client with a traced outbound transport.
func NewClient(timeout time.Duration, rec audit.Recorder, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(&http.Transport{}),
		},
		Audit: rec,
		Log:   log,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) record(ctx context.Context, e audit.Entry) {
	if c.Audit != nil {
		c.Audit.Record(ctx, e)
	}
}
