package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage/dialect"
)

// Store is a SQL implementation of the webhook and account data stores
// that supports multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Provider = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewPostgres creates a new PostgreSQL store.
func NewPostgres(dsn string) (*Store, error) {
	return New(Config{Driver: "postgres", DSN: dsn})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS webhooks (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
user_id TEXT NOT NULL,
created_at %s NOT NULL
)`, s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS account_data (
id %s,
object_id TEXT NOT NULL,
key TEXT NOT NULL,
value TEXT
)`, s.dialect.AutoIncrementClause()),
		`CREATE INDEX IF NOT EXISTS idx_webhooks_room ON webhooks(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_account_data_object ON account_data(object_id, key)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return s.runMigrations()
}

func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"webhooks", "label", "ALTER TABLE webhooks ADD COLUMN label TEXT"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(m.ddl); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	query := s.dialect.Rebind(s.dialect.ColumnExistsQuery())
	if err := s.db.QueryRow(query, table, column).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

type webhookRow struct {
	ID        string         `db:"id"`
	RoomID    string         `db:"room_id"`
	UserID    string         `db:"user_id"`
	Label     sql.NullString `db:"label"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r webhookRow) toDomain() *domain.Webhook {
	return &domain.Webhook{
		ID:        r.ID,
		RoomID:    r.RoomID,
		UserID:    r.UserID,
		Label:     r.Label.String,
		CreatedAt: r.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreateWebhook(ctx context.Context, roomID, userID, label string) (*domain.Webhook, error) {
	id, err := storage.NewHookID()
	if err != nil {
		return nil, err
	}

	hook := &domain.Webhook{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}

	query := s.dialect.Rebind(`INSERT INTO webhooks (id, room_id, user_id, label, created_at)
	          VALUES (?, ?, ?, ?, ?)`)

	if _, err := s.db.ExecContext(ctx, query,
		hook.ID, hook.RoomID, hook.UserID, nullString(hook.Label), hook.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	return hook, nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	query := s.dialect.Rebind(`SELECT id, room_id, user_id, label, created_at
	          FROM webhooks WHERE id = ?`)

	var row webhookRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrHookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	return row.toDomain(), nil
}

func (s *Store) ListWebhooks(ctx context.Context, roomID string) ([]*domain.Webhook, error) {
	query := s.dialect.Rebind(`SELECT id, room_id, user_id, label, created_at
	          FROM webhooks WHERE room_id = ? ORDER BY created_at, id`)

	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows, query, roomID); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	hooks := make([]*domain.Webhook, 0, len(rows))
	for _, r := range rows {
		hooks = append(hooks, r.toDomain())
	}
	return hooks, nil
}

func (s *Store) UpdateWebhookLabel(ctx context.Context, id, label string) error {
	query := s.dialect.Rebind(`UPDATE webhooks SET label = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, nullString(label), id)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrHookNotFound
	}

	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, roomID, id string) error {
	query := s.dialect.Rebind(`DELETE FROM webhooks WHERE room_id = ? AND id = ?`)

	result, err := s.db.ExecContext(ctx, query, roomID, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrHookNotFound
	}

	return nil
}

func (s *Store) DeleteWebhooksForRoom(ctx context.Context, roomID string) (int64, error) {
	query := s.dialect.Rebind(`DELETE FROM webhooks WHERE room_id = ?`)

	result, err := s.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete webhooks for room: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) GetAccountData(ctx context.Context, objectID string) (map[string]string, error) {
	query := s.dialect.Rebind(`SELECT object_id, key, value FROM account_data WHERE object_id = ?`)

	var rows []struct {
		ObjectID string         `db:"object_id"`
		Key      string         `db:"key"`
		Value    sql.NullString `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, objectID); err != nil {
		return nil, fmt.Errorf("failed to get account data: %w", err)
	}

	data := make(map[string]string, len(rows))
	for _, r := range rows {
		data[r.Key] = r.Value.String
	}
	return data, nil
}

// SetAccountData replaces the object's keys inside one transaction so
// readers never see a half-written set.
func (s *Store) SetAccountData(ctx context.Context, objectID string, data map[string]string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM account_data WHERE object_id = ?`), objectID); err != nil {
		return fmt.Errorf("failed to clear account data: %w", err)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	insert := s.dialect.Rebind(`INSERT INTO account_data (object_id, key, value) VALUES (?, ?, ?)`)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, insert, objectID, k, data[k]); err != nil {
			return fmt.Errorf("failed to insert account data %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account data: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
