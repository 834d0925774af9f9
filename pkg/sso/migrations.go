package sso

import "github.com/ecwu/openbook/pkg/database"

// MigrationComponent is the schema version namespace for this package
const MigrationComponent = "sso"

// Migrations returns the ordered schema migrations for SSO storage
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "create sso_providers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sso_providers (
					id %[1]s,
					name TEXT NOT NULL UNIQUE,
					provider_type TEXT NOT NULL,
					provider_name TEXT NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT false,
					saml_config TEXT,
					oidc_config TEXT,
					attribute_mapping TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "create sso_sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sso_sessions (
					id TEXT PRIMARY KEY,
					provider_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL,
					external_user_id TEXT NOT NULL,
					role TEXT NOT NULL,
					saml_session_index TEXT,
					created_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_sso_sessions_expires_at ON sso_sessions(expires_at);
				CREATE INDEX IF NOT EXISTS idx_sso_sessions_user_id ON sso_sessions(user_id);
			`,
		},
	}
}
