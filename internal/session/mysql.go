package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentHub/internal/errors"
)

// MySQLConfig 描述 MySQL 会话存储的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 将会话持久化到 MySQL。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 打开连接池并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	if dsn.Timeout == 0 {
		dsn.Timeout = 5 * time.Second
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

const (
	ensureSessionSQL = `INSERT IGNORE INTO agenthub_sessions (id, created_at) VALUES (?, ?)`
	selectSessionSQL = `SELECT created_at FROM agenthub_sessions WHERE id = ?`
	selectSharedSQL  = `SELECT shared_key, value FROM agenthub_shared WHERE session_id = ?`
	selectLogSQL     = `SELECT actor, action, input, output, duration_ms, success, created_at
    FROM agenthub_interactions WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	insertLogSQL = `INSERT INTO agenthub_interactions
    (session_id, actor, action, input, output, duration_ms, success, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	upsertSharedSQL = `INSERT INTO agenthub_shared (session_id, shared_key, value, updated_at)
    VALUES (?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	selectOneSharedSQL = `SELECT value FROM agenthub_shared WHERE session_id = ? AND shared_key = ?`
)

func (s *MySQLStore) ensure(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, ensureSessionSQL, id, time.Now().UnixMilli()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化会话失败")
	}
	return nil
}

// GetOrCreate 读取或创建会话，交互日志只返回最近的记录。
func (s *MySQLStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	id = normalizeID(id)
	if err := s.ensure(ctx, id); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Get 读取已存在的会话。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	id, err := requireID(id)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *MySQLStore) load(ctx context.Context, id string) (*Session, error) {
	sess := &Session{ID: id, Shared: make(map[string]any)}
	var created int64
	if err := s.db.QueryRowContext(ctx, selectSessionSQL, id).Scan(&created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	sess.CreatedAt = time.UnixMilli(created)

	rows, err := s.db.QueryContext(ctx, selectSharedSQL, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询共享上下文失败")
	}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析共享上下文失败")
		}
		value, err := decode([]byte(raw))
		if err != nil {
			rows.Close()
			return nil, err
		}
		sess.Shared[key] = value
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历共享上下文失败")
	}
	rows.Close()

	logRows, err := s.db.QueryContext(ctx, selectLogSQL, id, MaxInteractions)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交互日志失败")
	}
	defer logRows.Close()
	var latest []Interaction
	for logRows.Next() {
		var (
			interaction Interaction
			success     int
			at          int64
		)
		if err := logRows.Scan(&interaction.Actor, &interaction.Action, &interaction.Input, &interaction.Output,
			&interaction.DurationMs, &success, &at); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交互日志失败")
		}
		interaction.Success = success == 1
		interaction.At = time.UnixMilli(at)
		latest = append(latest, interaction)
	}
	if err := logRows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交互日志失败")
	}
	for i := len(latest) - 1; i >= 0; i-- {
		sess.Interactions = append(sess.Interactions, latest[i])
	}
	return sess, nil
}

// AppendInteraction 写入一条交互记录。
func (s *MySQLStore) AppendInteraction(ctx context.Context, sessionID string, interaction Interaction) error {
	id, err := requireID(sessionID)
	if err != nil {
		return err
	}
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	interaction = stamp(interaction)
	success := 0
	if interaction.Success {
		success = 1
	}
	if _, err := s.db.ExecContext(ctx, insertLogSQL,
		id,
		interaction.Actor,
		interaction.Action,
		interaction.Input,
		interaction.Output,
		interaction.DurationMs,
		success,
		interaction.At.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交互日志失败")
	}
	return nil
}

// SetShared 写入或覆盖共享值。
func (s *MySQLStore) SetShared(ctx context.Context, sessionID, key string, value any) error {
	id, err := requireID(sessionID)
	if err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSharedSQL, id, key, string(raw), time.Now().UnixMilli()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入共享上下文失败")
	}
	return nil
}

// GetShared 读取共享值。
func (s *MySQLStore) GetShared(ctx context.Context, sessionID, key string) (any, bool, error) {
	id, err := requireID(sessionID)
	if err != nil {
		return nil, false, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx, selectOneSharedSQL, id, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取共享上下文失败")
	}
	value, err := decode([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
