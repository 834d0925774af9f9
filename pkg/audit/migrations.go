package audit

import "github.com/ecwu/openbook/pkg/database"

// MigrationComponent is the schema version namespace for this package
const MigrationComponent = "audit"

// Migrations returns the ordered schema migrations for audit storage
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id %[1]s,
					action TEXT NOT NULL,
					actor_id BIGINT,
					subject TEXT,
					detail TEXT,
					ip_address TEXT,
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
				CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
				CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_id);
			`,
		},
	}
}
