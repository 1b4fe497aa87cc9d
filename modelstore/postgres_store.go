package modelstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint failure
const uniqueViolation = "23505"

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectModel = `
	SELECT id, name, description, tools_config, data_config, time_series, state, created_at, updated_at
	FROM models`

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(row scanner) (*Model, error) {
	var m Model
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Description,
		&m.Bundle.ToolsConfig,
		&m.Bundle.DataConfig,
		&m.Bundle.TimeSeries,
		&m.Bundle.State,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// storeError maps a name collision to a DuplicateNameError
func storeError(action, name string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == "models_pkey" {
			return fmt.Errorf("model with ID already exists: %w", err)
		}
		return duplicate(name)
	}
	return fmt.Errorf("failed to %s model: %w", action, err)
}

// Add inserts a new model into the database
func (s *PostgresStore) Add(m *Model) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO models (id, name, description, tools_config, data_config, time_series, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.Name, m.Description, m.Bundle.ToolsConfig, m.Bundle.DataConfig,
		m.Bundle.TimeSeries, m.Bundle.State, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return storeError("insert", m.Name, err)
	}

	return nil
}

// Get retrieves a model by ID
func (s *PostgresStore) Get(id string) (*Model, error) {
	m, err := scanModel(s.db.QueryRow(selectModel+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	return m, nil
}

// List returns every model ordered by creation time
func (s *PostgresStore) List() ([]*Model, error) {
	rows, err := s.db.Query(selectModel + ` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}

	return models, nil
}

// Update modifies an existing model
func (s *PostgresStore) Update(m *Model) error {
	m.UpdatedAt = time.Now().UTC()

	result, err := s.db.Exec(`
		UPDATE models
		SET name = $1, description = $2, tools_config = $3, data_config = $4,
		    time_series = $5, state = $6, updated_at = $7
		WHERE id = $8
	`, m.Name, m.Description, m.Bundle.ToolsConfig, m.Bundle.DataConfig,
		m.Bundle.TimeSeries, m.Bundle.State, m.UpdatedAt, m.ID)
	if err != nil {
		return storeError("update", m.Name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(m.ID)
	}

	return s.db.QueryRow(`SELECT created_at FROM models WHERE id = $1`, m.ID).Scan(&m.CreatedAt)
}

// Delete removes a model from the database
func (s *PostgresStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(id)
	}

	return nil
}
