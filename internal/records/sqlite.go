package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Schema is the subset of the application's record store read by SQLiteSource.
// JSON columns hold objects; NULL and empty strings decode to nil maps.
const Schema = `
CREATE TABLE IF NOT EXISTS providers (
	id        TEXT PRIMARY KEY,
	code      TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	base_url  TEXT NOT NULL,
	auth_type TEXT NOT NULL DEFAULT 'bearer',
	api_key   TEXT,
	extra     TEXT
);
CREATE TABLE IF NOT EXISTS models (
	id                 TEXT PRIMARY KEY,
	provider_id        TEXT NOT NULL,
	model_id           TEXT NOT NULL,
	endpoint           TEXT,
	default_params     TEXT,
	content_path       TEXT,
	stream_path        TEXT,
	input_tokens_path  TEXT,
	output_tokens_path TEXT
);
CREATE TABLE IF NOT EXISTS agents (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	instructions TEXT,
	model_id     TEXT
);
`

// SQLiteSource lists records from the desktop application's SQLite database.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLiteSource opens the database at path read-only.
func OpenSQLiteSource(path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open record store '%s': %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open record store '%s': %w", path, err)
	}
	return &SQLiteSource{db: db}, nil
}

// NewSQLiteSource wraps an existing handle. The caller keeps ownership of db.
func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, instructions, model_id FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var instructions, modelID sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &instructions, &modelID); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Instructions = instructions.String
		if modelID.Valid && modelID.String != "" {
			a.ModelID = StringPtr(modelID.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, model_id, endpoint, default_params,
		       content_path, stream_path, input_tokens_path, output_tokens_path
		FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		var m Model
		var endpoint, params, content, stream, input, output sql.NullString
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.ModelID, &endpoint, &params,
			&content, &stream, &input, &output); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		m.Endpoint = endpoint.String
		m.ContentPath = content.String
		m.StreamPath = stream.String
		m.InputTokensPath = input.String
		m.OutputTokensPath = output.String
		if m.DefaultParams, err = decodeObject(params); err != nil {
			return nil, fmt.Errorf("model %s: invalid default_params: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, base_url, auth_type, api_key, extra
		FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		var authType string
		var apiKey, extra sql.NullString
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.BaseURL, &authType, &apiKey, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		p.AuthType = AuthType(authType)
		p.APIKey = apiKey.String
		if p.Extra, err = decodeObject(extra); err != nil {
			return nil, fmt.Errorf("provider %s: invalid extra: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodeObject(col sql.NullString) (map[string]any, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(col.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ Source = (*SQLiteSource)(nil)
