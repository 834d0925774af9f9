package booking

import "github.com/ecwu/openbook/pkg/database"

// MigrationComponent is the schema version namespace for this package
const MigrationComponent = "booking"

// Migrations returns the ordered schema migrations for booking storage
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "create resources table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resources (
					id %[1]s,
					name TEXT NOT NULL UNIQUE,
					description TEXT,
					location TEXT,
					capacity INTEGER NOT NULL DEFAULT 1,
					is_active BOOLEAN NOT NULL DEFAULT true,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "create bookings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bookings (
					id %[1]s,
					resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title TEXT NOT NULL,
					starts_at TIMESTAMP NOT NULL,
					ends_at TIMESTAMP NOT NULL,
					status TEXT NOT NULL DEFAULT 'confirmed',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_bookings_resource_window ON bookings(resource_id, starts_at, ends_at);
				CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id);
			`,
		},
	}
}
