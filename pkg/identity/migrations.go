package identity

import "github.com/ecwu/openbook/pkg/database"

// MigrationComponent names the identity schema in the migrations table
const MigrationComponent = "identity"

// Migrations returns the identity schema migrations
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id %[1]s,
					email VARCHAR(255) NOT NULL UNIQUE,
					full_name VARCHAR(255),
					role VARCHAR(32) NOT NULL DEFAULT 'user',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					last_login_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
		{
			Version:     2,
			Description: "Create groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id %[1]s,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_groups_name ON groups(name);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id %[1]s,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					role VARCHAR(32) NOT NULL DEFAULT 'member',
					created_at TIMESTAMP NOT NULL,
					UNIQUE (user_id, group_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_group_id ON memberships(group_id);
			`,
		},
	}
}
