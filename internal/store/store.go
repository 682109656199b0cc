// Package store provides SQLite-based persistence for the controller:
// model catalog rows, per-model loading settings, and usage snapshots.
// Uses WAL mode for concurrent reads and crash-safe writes.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Catalog rows: one per GGUF on disk, keyed by model id.
		`CREATE TABLE IF NOT EXISTS models (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			filename        TEXT NOT NULL,
			path            TEXT NOT NULL,
			size_bytes      INTEGER NOT NULL,
			layer_count     INTEGER NOT NULL DEFAULT 0,
			trained_context INTEGER NOT NULL DEFAULT 0,
			max_context     INTEGER NOT NULL DEFAULT 0,
			parameters      TEXT NOT NULL DEFAULT '',
			quantization    TEXT NOT NULL DEFAULT '',
			pulled_at       INTEGER NOT NULL,
			last_used       INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_models_used ON models(last_used)`,
		`CREATE INDEX IF NOT EXISTS idx_models_filename ON models(filename)`,

		// User-chosen loading settings. NULL columns mean "let the
		// planner decide".
		`CREATE TABLE IF NOT EXISTS model_settings (
			model_id     TEXT PRIMARY KEY,
			gpu_layers   INTEGER,
			context_size INTEGER,
			batch_size   INTEGER,
			threads      INTEGER,
			temperature  REAL,
			updated_at   INTEGER NOT NULL
		)`,

		// Usage snapshots, flushed from the worker's in-memory counters.
		`CREATE TABLE IF NOT EXISTS usage_stats (
			model_id      TEXT PRIMARY KEY,
			total_prompts INTEGER NOT NULL DEFAULT 0,
			total_tokens  INTEGER NOT NULL DEFAULT 0,
			last_accessed INTEGER
		)`,

		// Daemon key-value state (schema version, install id).
		`CREATE TABLE IF NOT EXISTS daemon_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Catalog rows ───────────────────────────────────────────────────────────

// UpsertModel inserts or updates a catalog row.
func (d *DB) UpsertModel(desc domain.ModelDescriptor) error {
	_, err := d.db.Exec(
		`INSERT INTO models (id, name, filename, path, size_bytes, layer_count, trained_context, max_context, parameters, quantization, pulled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			filename=excluded.filename,
			path=excluded.path,
			size_bytes=excluded.size_bytes,
			layer_count=excluded.layer_count,
			trained_context=excluded.trained_context,
			max_context=excluded.max_context,
			parameters=excluded.parameters,
			quantization=excluded.quantization`,
		desc.ID, desc.Name, desc.Filename, desc.Path, desc.SizeBytes,
		desc.LayerCount, desc.TrainedContextLength, desc.MaxContextLength,
		desc.ParameterCount, desc.Quantization, time.Now().Unix(),
	)
	return err
}

// GetModel retrieves a catalog row by id. Returns (nil, nil) when absent.
func (d *DB) GetModel(id string) (*domain.ModelDescriptor, error) {
	row := d.db.QueryRow(
		`SELECT id, name, filename, path, size_bytes, layer_count, trained_context, max_context, parameters, quantization
		 FROM models WHERE id = ?`, id,
	)
	return scanModel(row)
}

// ListModels returns all catalog rows, most recently used first.
func (d *DB) ListModels() ([]domain.ModelDescriptor, error) {
	rows, err := d.db.Query(
		`SELECT id, name, filename, path, size_bytes, layer_count, trained_context, max_context, parameters, quantization
		 FROM models ORDER BY COALESCE(last_used, pulled_at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []domain.ModelDescriptor
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// DeleteModel removes a catalog row along with its settings and usage.
func (d *DB) DeleteModel(id string) error {
	result, err := d.db.Exec(`DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrModelNotFound
	}
	d.db.Exec(`DELETE FROM model_settings WHERE model_id = ?`, id) //nolint:errcheck
	d.db.Exec(`DELETE FROM usage_stats WHERE model_id = ?`, id)    //nolint:errcheck
	return nil
}

// TouchModel updates the last_used timestamp.
func (d *DB) TouchModel(id string) error {
	_, err := d.db.Exec(
		`UPDATE models SET last_used = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	return err
}

// ─── Loading settings ───────────────────────────────────────────────────────

// SetSettings stores the user's loading settings for a model. Nil fields
// persist as NULL and fall back to the planner on load.
func (d *DB) SetSettings(modelID string, s domain.ModelLoadingSettings) error {
	_, err := d.db.Exec(
		`INSERT INTO model_settings (model_id, gpu_layers, context_size, batch_size, threads, temperature, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET
			gpu_layers=excluded.gpu_layers,
			context_size=excluded.context_size,
			batch_size=excluded.batch_size,
			threads=excluded.threads,
			temperature=excluded.temperature,
			updated_at=excluded.updated_at`,
		modelID, nullableInt(s.GPULayers), nullableInt(s.ContextSize),
		nullableInt(s.BatchSize), nullableInt(s.Threads),
		nullableFloat(s.Temperature), time.Now().Unix(),
	)
	return err
}

// GetSettings retrieves persisted settings. A model with no stored row
// yields the zero value (every field nil) and no error.
func (d *DB) GetSettings(modelID string) (domain.ModelLoadingSettings, error) {
	var s domain.ModelLoadingSettings
	var gpuLayers, contextSize, batchSize, threads sql.NullInt64
	var temperature sql.NullFloat64

	err := d.db.QueryRow(
		`SELECT gpu_layers, context_size, batch_size, threads, temperature
		 FROM model_settings WHERE model_id = ?`, modelID,
	).Scan(&gpuLayers, &contextSize, &batchSize, &threads, &temperature)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return s, err
	}

	s.GPULayers = intPtr(gpuLayers)
	s.ContextSize = intPtr(contextSize)
	s.BatchSize = intPtr(batchSize)
	s.Threads = intPtr(threads)
	if temperature.Valid {
		v := temperature.Float64
		s.Temperature = &v
	}
	return s, nil
}

// ─── Usage snapshots ────────────────────────────────────────────────────────

// RecordUsage merges a usage snapshot into the persistent counters.
func (d *DB) RecordUsage(modelID string, stats domain.UsageStats) error {
	_, err := d.db.Exec(
		`INSERT INTO usage_stats (model_id, total_prompts, total_tokens, last_accessed)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET
			total_prompts=total_prompts+excluded.total_prompts,
			total_tokens=total_tokens+excluded.total_tokens,
			last_accessed=excluded.last_accessed`,
		modelID, stats.TotalPrompts, stats.TotalTokens,
		nullableUnix(stats.LastAccessed),
	)
	return err
}

// Usage returns the persisted counters for a model, zero when absent.
func (d *DB) Usage(modelID string) (domain.UsageStats, error) {
	var stats domain.UsageStats
	var lastAccessed sql.NullInt64

	err := d.db.QueryRow(
		`SELECT total_prompts, total_tokens, last_accessed
		 FROM usage_stats WHERE model_id = ?`, modelID,
	).Scan(&stats.TotalPrompts, &stats.TotalTokens, &lastAccessed)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	if lastAccessed.Valid {
		stats.LastAccessed = time.Unix(lastAccessed.Int64, 0)
	}
	return stats, nil
}

// ─── Daemon info ────────────────────────────────────────────────────────────

// SetDaemonInfo stores a key-value pair in daemon_info.
func (d *DB) SetDaemonInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO daemon_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetDaemonInfo retrieves a value from daemon_info, "" when absent.
func (d *DB) GetDaemonInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM daemon_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanModel(s scanner) (*domain.ModelDescriptor, error) {
	var m domain.ModelDescriptor
	err := s.Scan(&m.ID, &m.Name, &m.Filename, &m.Path, &m.SizeBytes,
		&m.LayerCount, &m.TrainedContextLength, &m.MaxContextLength,
		&m.ParameterCount, &m.Quantization)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullableInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullableFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
