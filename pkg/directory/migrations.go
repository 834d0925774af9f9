package directory

import "github.com/ecwu/openbook/pkg/database"

// MigrationComponent is the schema version namespace for this package
const MigrationComponent = "directory"

// Migrations returns the ordered schema migrations for the directory
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "create admin_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS admin_invitations (
					id %[1]s,
					token TEXT NOT NULL UNIQUE,
					email TEXT NOT NULL,
					created_by BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					accepted_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_admin_invitations_email ON admin_invitations(email);
			`,
		},
	}
}
