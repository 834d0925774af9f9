package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Storage persists SSO provider configurations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new provider configuration store
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

const providerColumns = `id, name, provider_type, provider_name, enabled,
	saml_config, oidc_config, attribute_mapping, created_at, updated_at`

// CreateProvider creates a new SSO provider configuration
func (s *Storage) CreateProvider(ctx context.Context, config *ProviderConfig) error {
	samlJSON, oidcJSON, attrJSON, err := marshalProviderConfigs(config)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	config.CreatedAt = now
	config.UpdatedAt = now
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sso_providers (
			name, provider_type, provider_name, enabled,
			saml_config, oidc_config, attribute_mapping, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, config.Name, config.ProviderType, config.ProviderName, config.Enabled,
		samlJSON, oidcJSON, attrJSON, now, now).Scan(&config.ID)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

// GetProvider retrieves a provider by name
func (s *Storage) GetProvider(ctx context.Context, name string) (*ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+providerColumns+`
		FROM sso_providers WHERE name = $1
	`, name)
	return scanProvider(row)
}

// GetProviderByID retrieves a provider by id
func (s *Storage) GetProviderByID(ctx context.Context, id int64) (*ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+providerColumns+`
		FROM sso_providers WHERE id = $1
	`, id)
	return scanProvider(row)
}

// ListProviders lists providers, optionally restricted to enabled ones
func (s *Storage) ListProviders(ctx context.Context, enabledOnly bool) ([]*ProviderConfig, error) {
	query := `SELECT ` + providerColumns + ` FROM sso_providers`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*ProviderConfig
	for rows.Next() {
		config, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, config)
	}
	return providers, rows.Err()
}

// UpdateProvider updates an existing provider by id
func (s *Storage) UpdateProvider(ctx context.Context, config *ProviderConfig) error {
	samlJSON, oidcJSON, attrJSON, err := marshalProviderConfigs(config)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sso_providers
		SET provider_type = $1, provider_name = $2, enabled = $3,
			saml_config = $4, oidc_config = $5, attribute_mapping = $6, updated_at = $7
		WHERE id = $8
	`, config.ProviderType, config.ProviderName, config.Enabled,
		samlJSON, oidcJSON, attrJSON, time.Now().UTC(), config.ID)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	return nil
}

// DeleteProvider deletes a provider by name
func (s *Storage) DeleteProvider(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sso_providers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	return nil
}

// ProviderExists checks whether a provider with the given name exists
func (s *Storage) ProviderExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sso_providers WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check provider existence: %w", err)
	}
	return exists, nil
}

func marshalProviderConfigs(config *ProviderConfig) (saml, oidc, attrs []byte, err error) {
	if config.SAMLConfig != nil {
		saml, err = json.Marshal(config.SAMLConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal SAML config: %w", err)
		}
	}
	if config.OIDCConfig != nil {
		oidc, err = json.Marshal(config.OIDCConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal OIDC config: %w", err)
		}
	}
	attrs, err = json.Marshal(config.AttributeMapping)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal attribute mapping: %w", err)
	}
	return saml, oidc, attrs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row rowScanner) (*ProviderConfig, error) {
	var samlJSON, oidcJSON, attrJSON []byte
	config := &ProviderConfig{}
	err := row.Scan(
		&config.ID, &config.Name, &config.ProviderType, &config.ProviderName,
		&config.Enabled, &samlJSON, &oidcJSON, &attrJSON,
		&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(samlJSON) > 0 {
		config.SAMLConfig = &SAMLConfig{}
		if err := json.Unmarshal(samlJSON, config.SAMLConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal SAML config: %w", err)
		}
	}
	if len(oidcJSON) > 0 {
		config.OIDCConfig = &OIDCConfig{}
		if err := json.Unmarshal(oidcJSON, config.OIDCConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OIDC config: %w", err)
		}
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &config.AttributeMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attribute mapping: %w", err)
		}
	}
	return config, nil
}
