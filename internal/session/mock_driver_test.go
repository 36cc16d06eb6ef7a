package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// scriptDriver 按脚本顺序回放 SQL 交互，任何偏离脚本的调用都会返回错误。

type stepKind string

const (
	kindExec     stepKind = "exec"
	kindQuery    stepKind = "query"
	kindBegin    stepKind = "begin"
	kindCommit   stepKind = "commit"
	kindRollback stepKind = "rollback"
)

type step struct {
	kind   stepKind
	sql    string
	result execResult
	rows   rowSet
	err    error
}

type execResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r execResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r execResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type rowSet struct {
	columns []string
	values  [][]driver.Value
}

func expectExec(query string, result execResult) step {
	return step{kind: kindExec, sql: query, result: result}
}

func expectExecError(query string, err error) step {
	return step{kind: kindExec, sql: query, err: err}
}

func expectQuery(query string, rows rowSet) step {
	return step{kind: kindQuery, sql: query, rows: rows}
}

func expectBegin() step    { return step{kind: kindBegin} }
func expectCommit() step   { return step{kind: kindCommit} }
func expectRollback() step { return step{kind: kindRollback} }

type scriptDriver struct {
	mu    sync.Mutex
	steps []step
	pos   int
	calls [][]any
}

var scriptSeq atomic.Int64

// scriptedDB 注册一个只回放 steps 的驱动并打开单连接的 *sql.DB。
func scriptedDB(t *testing.T, steps []step) (*sql.DB, *scriptDriver) {
	t.Helper()
	drv := &scriptDriver{steps: steps}
	name := fmt.Sprintf("session-script-%d", scriptSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// done 断言脚本中的每一步都已执行。
func (d *scriptDriver) done(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.steps) {
		t.Fatalf("script stopped at step %d of %d", d.pos, len(d.steps))
	}
}

// argsOf 返回第 i 次 Exec/Query 收到的参数。
func (d *scriptDriver) argsOf(i int) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.calls) {
		return nil
	}
	return d.calls[i]
}

// take 取出下一步并校验种类与语句。
func (d *scriptDriver) take(kind stepKind, query string, args []driver.NamedValue) (step, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.steps) {
		return step{}, fmt.Errorf("script exhausted, unexpected %s", kind)
	}
	next := d.steps[d.pos]
	if next.kind != kind {
		return step{}, fmt.Errorf("step %d: want %s, got %s", d.pos, next.kind, kind)
	}
	if next.sql != "" && squash(next.sql) != squash(query) {
		return step{}, fmt.Errorf("step %d: want %q, got %q", d.pos, squash(next.sql), squash(query))
	}
	d.pos++
	if kind == kindExec || kind == kindQuery {
		values := make([]any, 0, len(args))
		for _, a := range args {
			values = append(values, a.Value)
		}
		d.calls = append(d.calls, values)
	}
	return next, nil
}

func (d *scriptDriver) Open(string) (driver.Conn, error) { return scriptConn{d}, nil }

type scriptConn struct{ d *scriptDriver }

var (
	_ driver.ExecerContext  = scriptConn{}
	_ driver.QueryerContext = scriptConn{}
	_ driver.ConnBeginTx    = scriptConn{}
)

var errPrepareUnsupported = errors.New("scripted driver does not prepare statements")

func (scriptConn) Prepare(string) (driver.Stmt, error) { return nil, errPrepareUnsupported }
func (scriptConn) Close() error                        { return nil }

func (c scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	s, err := c.d.take(kindBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return scriptTx(c), nil
}

func (c scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	s, err := c.d.take(kindExec, query, args)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	s, err := c.d.take(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &scriptRows{set: s.rows}, nil
}

type scriptTx scriptConn

func (t scriptTx) finish(kind stepKind) error {
	s, err := t.d.take(kind, "", nil)
	if err != nil {
		return err
	}
	return s.err
}

func (t scriptTx) Commit() error   { return t.finish(kindCommit) }
func (t scriptTx) Rollback() error { return t.finish(kindRollback) }

type scriptRows struct {
	set rowSet
	row int
}

func (r *scriptRows) Columns() []string { return r.set.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.row >= len(r.set.values) {
		return io.EOF
	}
	copy(dest, r.set.values[r.row])
	r.row++
	return nil
}

func squash(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
