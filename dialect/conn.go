package dialect

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// controller 方言共用的连接控制和语句执行
type controller struct {
	provider ConnectionProvider
	mapper   *typemap.Mapper
	compiler atomic.Pointer[compiler.Compiler]
	observer atomic.Pointer[Observer]

	// onConnect 新连接建立后调用，MySQL 在这里探测引用字符
	onConnect func(ctx context.Context, conn *sql.Conn) error

	mu   sync.Mutex
	conn *sql.Conn
}

func (c *controller) Mapper() *typemap.Mapper {
	return c.mapper
}

func (c *controller) Compiler() *compiler.Compiler {
	return c.compiler.Load()
}

func (c *controller) Provider() ConnectionProvider {
	return c.provider
}

func (c *controller) SetObserver(observer *Observer) {
	c.observer.Store(observer)
}

// GetConnection 返回当前连接，连接不存在或已关闭时重新创建
func (c *controller) GetConnection(ctx context.Context) (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.PingContext(ctx); err == nil {
			return c.conn, nil
		}
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.connect(ctx)
}

// CreateConnection 关闭当前连接并创建新连接
func (c *controller) CreateConnection(ctx context.Context) (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.connect(ctx)
}

func (c *controller) connect(ctx context.Context) (*sql.Conn, error) {
	conn, err := c.provider.CreateConnection(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create connection")
	}
	if c.onConnect != nil {
		if err := c.onConnect(ctx, conn); err != nil {
			return nil, multierr.Append(errors.WithMessage(err, "connection setup failed"), conn.Close())
		}
	}
	c.conn = conn
	return conn, nil
}

func (c *controller) CheckClose(closeConnection bool) error {
	if !closeConnection {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// Close 关闭连接，连接来源实现了 io.Closer 时一并关闭
func (c *controller) Close() error {
	err := c.CheckClose(true)
	if closer, ok := c.provider.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	return err
}

func (c *controller) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := c.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	var res sql.Result
	err = c.observer.Load().Observe(ctx, query, func(ctx context.Context) error {
		var execErr error
		res, execErr = conn.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "exec failed, sql: %s", query)
	}
	return res, nil
}

func (c *controller) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := c.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	var rows *sql.Rows
	err = c.observer.Load().Observe(ctx, query, func(ctx context.Context) error {
		var queryErr error
		rows, queryErr = conn.QueryContext(ctx, query, args...)
		return queryErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "query failed, sql: %s", query)
	}
	return rows, nil
}

func (c *controller) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	conn, err := c.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx: tx, observer: c.observer.Load()}, nil
}

// Tx 带观测的事务
type Tx struct {
	tx       *sql.Tx
	observer *Observer
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := t.observer.Observe(ctx, query, func(ctx context.Context) error {
		var execErr error
		res, execErr = t.tx.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "exec failed, sql: %s", query)
	}
	return res, nil
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := t.observer.Observe(ctx, query, func(ctx context.Context) error {
		var queryErr error
		rows, queryErr = t.tx.QueryContext(ctx, query, args...)
		return queryErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "query failed, sql: %s", query)
	}
	return rows, nil
}

func (t *Tx) Commit() error {
	return errors.Wrap(t.tx.Commit(), "commit failed")
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.Wrap(err, "rollback failed")
}

// queryStrings 读取单列字符串结果
func queryStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan failed")
		}
		values = append(values, v)
	}
	return values, errors.Wrap(rows.Err(), "rows failed")
}
