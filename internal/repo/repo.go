package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"parcelflow/internal/config"
	"parcelflow/internal/db"
)

type Repo struct {
	DB *db.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed between read and conditional write.
	ErrConflict = errors.New("conflict: case status changed concurrently")
)

const activeConfigName = "active"

func (r Repo) q(tx *sql.Tx) db.Querier {
	return r.DB.On(tx)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableJSON(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	return r.UpsertConfigTx(ctx, nil, cfg)
}

// UpsertConfigTx validates and stores cfg as the active workflow configuration.
func (r Repo) UpsertConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, r.DB.Rebind(`INSERT INTO workflow_configs(name,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`), activeConfigName, string(payload), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT config_json FROM workflow_configs WHERE name=?`), activeConfigName).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}
