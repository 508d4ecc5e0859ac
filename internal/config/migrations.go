package config

import (
	"fmt"
	"strings"
)

// columnTypes maps the placeholders used in the schema to each dialect.
var columnTypes = map[string]*strings.Replacer{
	DialectSQLite: strings.NewReplacer(
		"{id}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{ref}", "INTEGER",
		"{name}", "TEXT",
		"{text}", "TEXT",
		"{bool}", "INTEGER",
		"{time}", "DATETIME",
	),
	DialectPostgres: strings.NewReplacer(
		"{id}", "BIGSERIAL PRIMARY KEY",
		"{ref}", "BIGINT",
		"{name}", "VARCHAR(255)",
		"{text}", "TEXT",
		"{bool}", "BOOLEAN",
		"{time}", "TIMESTAMPTZ",
	),
	DialectMySQL: strings.NewReplacer(
		"{id}", "BIGINT AUTO_INCREMENT PRIMARY KEY",
		"{ref}", "BIGINT",
		"{name}", "VARCHAR(255)",
		"{text}", "VARCHAR(1024)",
		"{bool}", "BOOLEAN",
		"{time}", "DATETIME(6)",
	),
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS authorities (
		id {id},
		name {name} UNIQUE NOT NULL,
		description {text} NOT NULL,
		category {name} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS roles (
		id {id},
		name {name} UNIQUE NOT NULL,
		description {text} NOT NULL,
		created_at {time} NOT NULL,
		updated_at {time} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS role_authorities (
		role_id {ref} NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		authority_id {ref} NOT NULL REFERENCES authorities(id),
		PRIMARY KEY (role_id, authority_id)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id {id},
		username {name} UNIQUE NOT NULL,
		email {name} UNIQUE NOT NULL,
		password_hash {text} NOT NULL,
		full_name {text} NOT NULL,
		enabled {bool} NOT NULL,
		last_login_at {time} NULL,
		created_at {time} NOT NULL,
		updated_at {time} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id {ref} NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id {ref} NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, role_id)
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name {name} PRIMARY KEY,
		value {text} NOT NULL
	)`,
}

func (s *Store) migrate() error {
	types, ok := columnTypes[s.dialect]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", s.dialect)
	}
	for _, m := range schema {
		ddl := types.Replace(m)
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, ddl)
		}
	}
	return nil
}
