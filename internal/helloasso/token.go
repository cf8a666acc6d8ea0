package helloasso

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/edupay/helloasso-gateway/internal/audit"
	"github.com/edupay/helloasso-gateway/internal/common"
	"github.com/edupay/helloasso-gateway/internal/obs"
	"github.com/edupay/helloasso-gateway/internal/settings"
)

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (t tokenResponse) failureDetail(status int) string {
	parts := make([]string, 0, 2)
	if t.ErrorCode != "" {
		parts = append(parts, t.ErrorCode)
	}
	if t.ErrorDescription != "" {
		parts = append(parts, t.ErrorDescription)
	}
	if len(parts) == 0 {
		return "HTTP " + strconv.Itoa(status)
	}
	return strings.Join(parts, ": ") + " (HTTP " + strconv.Itoa(status) + ")"
}

// FetchToken performs one OAuth2 client-credentials exchange. Tokens are
// never cached: both intent creation and verification authenticate
// themselves, so revoked credentials take effect on the next call. Every
// attempt, success or failure, writes one token_request audit entry.
func (c *Client) FetchToken(ctx context.Context, cfg settings.Gateway) (string, error) {
	if !cfg.HasCredentials() {
		return "", common.NewAppError(common.CodeConfigError,
			"payment gateway credentials are not configured", http.StatusInternalServerError, nil)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.APIBase()+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", common.NewAppError(common.CodeTokenError, "build token request", http.StatusInternalServerError, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.recordTokenAttempt(ctx, audit.StatusError, 0, "token request failed: "+err.Error())
		return "", common.NewAppError(common.CodeTokenError,
			"token request to payment provider failed", http.StatusBadGateway, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.recordTokenAttempt(ctx, audit.StatusError, resp.StatusCode, "read token response: "+err.Error())
		return "", common.NewAppError(common.CodeTokenError, "read token response", http.StatusBadGateway, err)
	}

	var tok tokenResponse
	_ = json.Unmarshal(body, &tok)

	if resp.StatusCode == http.StatusOK && tok.AccessToken != "" {
		c.recordTokenAttempt(ctx, audit.StatusSuccess, resp.StatusCode, "access token issued")
		return tok.AccessToken, nil
	}

	detail := tok.failureDetail(resp.StatusCode)
	c.recordTokenAttempt(ctx, audit.StatusError, resp.StatusCode, "token request rejected: "+detail)
	return "", common.NewAppError(common.CodeTokenError,
		"payment provider rejected the token request: "+detail, http.StatusBadGateway, nil)
}

func (c *Client) recordTokenAttempt(ctx context.Context, status string, code int, msg string) {
	if obs.TokenRequestsTotal != nil {
		obs.TokenRequestsTotal.WithLabelValues(status).Inc()
	}
	c.record(ctx, audit.Entry{
		Action:       audit.ActionTokenRequest,
		Status:       status,
		Message:      msg,
		ResponseCode: code,
	})
}
