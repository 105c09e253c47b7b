package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/petervdpas/lavaman/internal/queue"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("lavaman/storage")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers "sqlite", which sqlx does not know by name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB is a SQL-backed queue and session store. It works against SQLite and
// Postgres; queries are written with ? placeholders and rebound per driver.
type DB struct {
	queue.JSONCodec

	db     *sqlx.DB
	driver string
}

// OpenSQLite opens or creates queues.db in dir.
func OpenSQLite(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return Open(DriverSQLite, filepath.Join(dir, "queues.db"))
}

func Open(driver, dsn string) (*DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queues (
			guild_id   TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queues table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS node_sessions (
			node_id    TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create node_sessions table: %w", err)
	}

	log.Infof("opened %s queue store", driver)
	return &DB{db: db, driver: driver}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Get(ctx context.Context, guildID string) ([]byte, error) {
	var data string
	err := d.db.GetContext(ctx, &data, d.db.Rebind(`SELECT data FROM queues WHERE guild_id = ?`), guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return []byte(data), nil
}

func (d *DB) Set(ctx context.Context, guildID string, blob []byte) error {
	_, err := d.db.ExecContext(ctx, d.db.Rebind(`
		INSERT INTO queues (guild_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`), guildID, string(blob), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set queue: %w", err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, guildID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM queues WHERE guild_id = ?`), guildID)
	if err != nil {
		return false, fmt.Errorf("delete queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Guilds lists every guild with a stored queue.
func (d *DB) Guilds(ctx context.Context) ([]string, error) {
	var out []string
	if err := d.db.SelectContext(ctx, &out, `SELECT guild_id FROM queues ORDER BY guild_id`); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return out, nil
}

// SaveSession remembers the last session id a node handed out, so the next
// connect can resume it.
func (d *DB) SaveSession(ctx context.Context, nodeID, sessionID string) error {
	_, err := d.db.ExecContext(ctx, d.db.Rebind(`
		INSERT INTO node_sessions (node_id, session_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (node_id) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at
	`), nodeID, sessionID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (d *DB) LoadSession(ctx context.Context, nodeID string) (string, error) {
	var sid string
	err := d.db.GetContext(ctx, &sid, d.db.Rebind(`SELECT session_id FROM node_sessions WHERE node_id = ?`), nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return sid, nil
}
