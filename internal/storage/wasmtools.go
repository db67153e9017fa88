package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vela-systems/agentrt/pkg/models"
)

// WasmToolStore persists registered WASM tools (spec §6's wasm_tools table,
// binary plus BLAKE3 hash) and their declared capabilities.
type WasmToolStore struct {
	db *DB
}

// NewWasmToolStore wraps db as a wasm-tool store.
func NewWasmToolStore(db *DB) *WasmToolStore {
	return &WasmToolStore{db: db}
}

func (s *WasmToolStore) Put(ctx context.Context, tool *models.StoredWasmTool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wasm_tools (name, binary, hash, schema, trust, status, description, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET binary = excluded.binary, hash = excluded.hash,
			schema = excluded.schema, trust = excluded.trust, status = excluded.status,
			description = excluded.description, updated_at = excluded.updated_at
	`, tool.Name, tool.Binary, tool.Hash, tool.Schema, string(tool.Trust), string(tool.Status),
		tool.Description, formatRFC3339(tool.CreatedAt), formatRFC3339(tool.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put wasm tool: %w", err)
	}
	return nil
}

func (s *WasmToolStore) Get(ctx context.Context, name string) (*models.StoredWasmTool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, binary, hash, schema, trust, status, description, created_at, updated_at
		FROM wasm_tools WHERE name = ?
	`, name)
	tool, err := scanWasmTool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tool, err
}

func (s *WasmToolStore) ListActive(ctx context.Context) ([]models.StoredWasmTool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, binary, hash, schema, trust, status, description, created_at, updated_at
		FROM wasm_tools WHERE status = ?
	`, string(models.WasmToolActive))
	if err != nil {
		return nil, fmt.Errorf("list active wasm tools: %w", err)
	}
	defer rows.Close()
	var out []models.StoredWasmTool
	for rows.Next() {
		tool, err := scanWasmTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tool)
	}
	return out, rows.Err()
}

func (s *WasmToolStore) SetStatus(ctx context.Context, name string, status models.WasmToolStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE wasm_tools SET status = ?, updated_at = ? WHERE name = ?`,
		string(status), nowRFC3339(), name)
	if err != nil {
		return fmt.Errorf("set wasm tool status: %w", err)
	}
	return nil
}

func scanWasmTool(row rowScanner) (*models.StoredWasmTool, error) {
	var t models.StoredWasmTool
	var createdAt, updatedAt string
	if err := row.Scan(&t.Name, &t.Binary, &t.Hash, &t.Schema, &t.Trust, &t.Status, &t.Description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTimestamp(createdAt)
	t.UpdatedAt = parseTimestamp(updatedAt)
	return &t, nil
}

// CapabilityStore persists the tool_capabilities join table.
type CapabilityStore struct {
	db *DB
}

// NewCapabilityStore wraps db as a capability store.
func NewCapabilityStore(db *DB) *CapabilityStore {
	return &CapabilityStore{db: db}
}

func (s *CapabilityStore) Set(ctx context.Context, toolName string, capabilities []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set capabilities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tool_capabilities WHERE tool_name = ?", toolName); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear capabilities: %w", err)
	}
	for _, c := range capabilities {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tool_capabilities (tool_name, capability) VALUES (?,?)", toolName, c); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert capability: %w", err)
		}
	}
	return tx.Commit()
}

func (s *CapabilityStore) Get(ctx context.Context, toolName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT capability FROM tool_capabilities WHERE tool_name = ?", toolName)
	if err != nil {
		return nil, fmt.Errorf("get capabilities: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordFailure appends a row to tool_failures.
func RecordFailure(ctx context.Context, db *DB, id, toolName, jobID, detail string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tool_failures (id, tool_name, job_id, detail, created_at) VALUES (?,?,?,?,?)
	`, id, toolName, nullString(jobID), detail, nowRFC3339())
	if err != nil {
		return fmt.Errorf("record tool failure: %w", err)
	}
	return nil
}
