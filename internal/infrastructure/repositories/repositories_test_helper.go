package repositories

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps the in-memory database and its locks in one place
	sqlDB.SetMaxOpenConns(1)
	return db
}

// newFileTestDB opens an on-disk database that several connections can share,
// so concurrent callers really race on the same rows.
func newFileTestDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "keygate.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createAPIKeyTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE api_keys (
		id TEXT PRIMARY KEY,
		key_prefix TEXT NOT NULL UNIQUE,
		key_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		service TEXT NOT NULL,
		permissions TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		expires_at DATETIME,
		revoked_at DATETIME,
		revoke_reason TEXT,
		usage_count INTEGER NOT NULL DEFAULT 0,
		last_used_at DATETIME,
		last_used_ip TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createRateLimitTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE rate_limits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_id TEXT NOT NULL,
		window_start DATETIME NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (key_id, window_start)
	);`)
}

func createAuditLogTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE api_key_audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_id TEXT,
		action TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		details TEXT,
		created_at DATETIME
	);`)
}

func createCredentialTables(t *testing.T, db *gorm.DB) {
	createAPIKeyTable(t, db)
	createRateLimitTable(t, db)
	createAuditLogTable(t, db)
}
