package postgres

import (
	"fmt"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(cfg config.PostgresConfig) (*sqlx.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.DBname)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the ledger table if it does not exist. The
// composite primary key on (message_id, source) is the idempotency
// control: duplicate concurrent inserts are resolved by this constraint,
// not by an application-level lock.
func EnsureSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notification_requests (
		message_id     TEXT        NOT NULL,
		source         TEXT        NOT NULL,
		request_type   TEXT        NOT NULL DEFAULT 'request',
		correlation_id TEXT,
		recipients     JSONB       NOT NULL,
		payload        JSONB       NOT NULL,
		status         TEXT        NOT NULL,
		status_details JSONB,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (message_id, source)
	);
	CREATE INDEX IF NOT EXISTS idx_notification_requests_status
		ON notification_requests (status);
	CREATE INDEX IF NOT EXISTS idx_notification_requests_correlation
		ON notification_requests (correlation_id);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure notification_requests schema: %w", err)
	}

	return nil
}
