package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mediq/model-gateway/pkg/types"
	_ "modernc.org/sqlite"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// Store SQLite后端存储
// 持久化三类实体: api_keys、health_checks(只追加)、system_flags
type Store struct {
	db *sql.DB
}

// Open 打开数据库并初始化schema
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("执行pragma %q 失败: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id            TEXT PRIMARY KEY,
			provider      TEXT NOT NULL,
			feature       TEXT NOT NULL,
			key_value     TEXT NOT NULL,
			priority      INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT 'active',
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_used_at  TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_pool
			ON api_keys(provider, feature, status, priority)`,
		`CREATE TABLE IF NOT EXISTS health_checks (
			id               TEXT PRIMARY KEY,
			api_key_id       TEXT NOT NULL,
			status           TEXT NOT NULL,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			error_message    TEXT,
			checked_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_checks_key
			ON health_checks(api_key_id, checked_at)`,
		`CREATE TABLE IF NOT EXISTS system_flags (
			flag_name  TEXT PRIMARY KEY,
			flag_value TEXT NOT NULL,
			updated_by TEXT,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化schema失败: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAPIKey 插入密钥记录
func (s *Store) CreateAPIKey(key *types.APIKey) error {
	_, err := s.db.Exec(
		`INSERT INTO api_keys (id, provider, feature, key_value, priority, status, failure_count, last_used_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, string(key.Provider), string(key.Feature), key.KeyValue,
		key.Priority, string(key.Status), key.FailureCount,
		nullableTime(key.LastUsedAt), formatTime(key.CreatedAt), formatTime(key.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("插入密钥失败: %w", err)
	}
	return nil
}

// GetAPIKey 按ID读取密钥
func (s *Store) GetAPIKey(id string) (*types.APIKey, error) {
	row := s.db.QueryRow(
		`SELECT id, provider, feature, key_value, priority, status, failure_count, last_used_at, created_at, updated_at
		 FROM api_keys WHERE id = ?`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("密钥 %s: %w", id, ErrNotFound)
	}
	return key, err
}

// ListActiveKeys 列出(provider, feature)下所有active状态的密钥，按priority降序
// degraded/disabled的密钥被硬排除，而不是降权
func (s *Store) ListActiveKeys(provider types.Provider, feature types.Feature) ([]*types.APIKey, error) {
	rows, err := s.db.Query(
		`SELECT id, provider, feature, key_value, priority, status, failure_count, last_used_at, created_at, updated_at
		 FROM api_keys
		 WHERE provider = ? AND feature = ? AND status = 'active'
		 ORDER BY priority DESC`,
		string(provider), string(feature))
	if err != nil {
		return nil, fmt.Errorf("查询密钥失败: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// ListKeysByFeature 列出功能下所有密钥(任意状态)，维护评估用
func (s *Store) ListKeysByFeature(feature types.Feature) ([]*types.APIKey, error) {
	rows, err := s.db.Query(
		`SELECT id, provider, feature, key_value, priority, status, failure_count, last_used_at, created_at, updated_at
		 FROM api_keys WHERE feature = ?`,
		string(feature))
	if err != nil {
		return nil, fmt.Errorf("查询密钥失败: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// ListAllKeys 列出全部密钥
func (s *Store) ListAllKeys() ([]*types.APIKey, error) {
	rows, err := s.db.Query(
		`SELECT id, provider, feature, key_value, priority, status, failure_count, last_used_at, created_at, updated_at
		 FROM api_keys ORDER BY provider, feature, priority DESC`)
	if err != nil {
		return nil, fmt.Errorf("查询密钥失败: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// UpdateAPIKey 在单个事务内读取-修改-写回一条密钥记录
// failure_count自增等并发竞争由这里的语句级原子性兜底，应用层不再加锁
func (s *Store) UpdateAPIKey(id string, updater func(*types.APIKey) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(
		`SELECT id, provider, feature, key_value, priority, status, failure_count, last_used_at, created_at, updated_at
		 FROM api_keys WHERE id = ?`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("密钥 %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if err := updater(key); err != nil {
		return err
	}
	key.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(
		`UPDATE api_keys
		 SET provider = ?, feature = ?, key_value = ?, priority = ?, status = ?, failure_count = ?, last_used_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(key.Provider), string(key.Feature), key.KeyValue, key.Priority,
		string(key.Status), key.FailureCount, nullableTime(key.LastUsedAt),
		formatTime(key.UpdatedAt), key.ID,
	)
	if err != nil {
		return fmt.Errorf("更新密钥失败: %w", err)
	}

	return tx.Commit()
}

// TouchLastUsed 更新密钥的最近使用时间
func (s *Store) TouchLastUsed(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE api_keys SET last_used_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("更新使用时间失败: %w", err)
	}
	return nil
}

// InsertHealthCheck 追加一条健康检查审计记录
func (s *Store) InsertHealthCheck(rec *types.HealthCheckRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO health_checks (id, api_key_id, status, response_time_ms, error_message, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.APIKeyID, string(rec.Status), rec.ResponseTimeMs,
		rec.ErrorMessage, formatTime(rec.CheckedAt))
	if err != nil {
		return fmt.Errorf("写入健康检查记录失败: %w", err)
	}
	return nil
}

// ListHealthChecks 按时间倒序读取某个密钥最近的健康检查记录
func (s *Store) ListHealthChecks(keyID string, limit int) ([]*types.HealthCheckRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, api_key_id, status, response_time_ms, error_message, checked_at
		 FROM health_checks WHERE api_key_id = ?
		 ORDER BY checked_at DESC LIMIT ?`, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询健康检查记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]*types.HealthCheckRecord, 0)
	for rows.Next() {
		var rec types.HealthCheckRecord
		var status, checkedAt string
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.APIKeyID, &status, &rec.ResponseTimeMs, &errMsg, &checkedAt); err != nil {
			return nil, fmt.Errorf("扫描健康检查记录失败: %w", err)
		}
		rec.Status = types.HealthState(status)
		rec.ErrorMessage = errMsg.String
		rec.CheckedAt = parseTime(checkedAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// GetSystemFlag 读取系统标志，不存在时ok为false
func (s *Store) GetSystemFlag(name string) (value string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT flag_value FROM system_flags WHERE flag_name = ?`, name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("读取系统标志失败: %w", err)
	}
	return value, true, nil
}

// SetSystemFlag 写入系统标志(upsert)
func (s *Store) SetSystemFlag(name, value, updatedBy string) error {
	_, err := s.db.Exec(
		`INSERT INTO system_flags (flag_name, flag_value, updated_by, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(flag_name) DO UPDATE SET flag_value = excluded.flag_value,
			updated_by = excluded.updated_by, updated_at = excluded.updated_at`,
		name, value, updatedBy, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("写入系统标志失败: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*types.APIKey, error) {
	var key types.APIKey
	var provider, feature, status, createdAt, updatedAt string
	var lastUsed sql.NullString
	err := row.Scan(&key.ID, &provider, &feature, &key.KeyValue, &key.Priority,
		&status, &key.FailureCount, &lastUsed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	key.Provider = types.Provider(provider)
	key.Feature = types.Feature(feature)
	key.Status = types.KeyStatus(status)
	key.CreatedAt = parseTime(createdAt)
	key.UpdatedAt = parseTime(updatedAt)
	if lastUsed.Valid {
		t := parseTime(lastUsed.String)
		key.LastUsedAt = &t
	}
	return &key, nil
}

func scanAPIKeys(rows *sql.Rows) ([]*types.APIKey, error) {
	keys := make([]*types.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描密钥失败: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
