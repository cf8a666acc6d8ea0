package settings

import (
	"context"
	"strings"

	"github.com/edupay/helloasso-gateway/internal/common"
)

// Production and sandbox API domains accepted by the gateway.
const (
	DomainProduction = "helloasso.com"
	DomainSandbox    = "helloasso-sandbox.com"
)

// Gateway carries the HelloAsso credentials and organization settings for one
// operation. Values are re-read from the store on every call; nothing here is
// cached across requests.
type Gateway struct {
	ClientID     string
	ClientSecret string
	OrgSlug      string
	BaseDomain   string
	Debug        bool
}

// APIBase returns the HelloAsso API root for the configured domain. A value
// carrying a scheme is used verbatim, which lets tests point the client at a
// local server.
func (g Gateway) APIBase() string {
	domain := strings.TrimSpace(g.BaseDomain)
	if domain == "" {
		domain = DomainProduction
	}
	if strings.Contains(domain, "://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://api." + domain
}

// HasCredentials reports whether both OAuth2 credentials are present.
func (g Gateway) HasCredentials() bool {
	return strings.TrimSpace(g.ClientID) != "" && strings.TrimSpace(g.ClientSecret) != ""
}

// Complete reports whether the settings allow a checkout intent to be created.
func (g Gateway) Complete() bool {
	return g.HasCredentials() && strings.TrimSpace(g.OrgSlug) != ""
}

// MaskedClientID is safe to include in log output.
func (g Gateway) MaskedClientID() string {
	return common.MaskSecret(g.ClientID)
}

// Store loads gateway settings. Implementations must return fresh values on
// every call so credential changes take effect without a restart.
type Store interface {
	Gateway(ctx context.Context) (Gateway, error)
}

// Static is a fixed-value store used in tests and single-tenant deployments
// configured purely through the environment.
type Static struct {
	Config Gateway
}

// Gateway returns the fixed settings.
func (s Static) Gateway(context.Context) (Gateway, error) {
	return s.Config, nil
}
