package settings

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Setting names recognised in the gateway_settings table. They mirror the
// names the host framework's admin screen writes.
const (
	keyClientID     = "clientid"
	keyClientSecret = "clientsecret"
	keyOrgSlug      = "org_slug"
	keyBaseDomain   = "base_url"
	keyDebug        = "debugmode"
)

// PGStore reads gateway settings from the gateway_settings key/value table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Gateway loads all settings rows and assembles a Gateway config. Unknown
// names are ignored; missing names leave zero values for the caller's
// completeness checks.
func (s PGStore) Gateway(ctx context.Context) (Gateway, error) {
	rows, err := s.Pool.Query(ctx, `SELECT name, value FROM gateway_settings`)
	if err != nil {
		return Gateway{}, err
	}
	defer rows.Close()

	var cfg Gateway
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Gateway{}, err
		}
		switch name {
		case keyClientID:
			cfg.ClientID = value
		case keyClientSecret:
			cfg.ClientSecret = value
		case keyOrgSlug:
			cfg.OrgSlug = value
		case keyBaseDomain:
			cfg.BaseDomain = value
		case keyDebug:
			cfg.Debug = parseBool(value)
		}
	}
	if err := rows.Err(); err != nil {
		return Gateway{}, err
	}
	return cfg, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
