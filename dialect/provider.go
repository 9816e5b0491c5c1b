package dialect

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
)

// DSNProvider 基于 database/sql 的连接来源，第一次使用时打开连接池
type DSNProvider struct {
	driver   string
	dsn      string
	deployed bool

	mu sync.Mutex
	db *sql.DB
}

// NewDSNProvider deployed 表示数据库在打开之前是否已经存在
func NewDSNProvider(driver, dsn string, deployed bool) *DSNProvider {
	return &DSNProvider{driver: driver, dsn: dsn, deployed: deployed}
}

// NewDBProvider 使用已经打开的连接池
func NewDBProvider(db *sql.DB, deployed bool) *DSNProvider {
	return &DSNProvider{db: db, deployed: deployed}
}

func (p *DSNProvider) open() (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}
	db, err := sql.Open(p.driver, p.dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql.Open failed, driver: %s", p.driver)
	}
	p.db = db
	return db, nil
}

func (p *DSNProvider) CreateConnection(ctx context.Context) (*sql.Conn, error) {
	db, err := p.open()
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "db.Conn failed")
	}
	return conn, nil
}

func (p *DSNProvider) TestConnection(ctx context.Context) error {
	db, err := p.open()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping failed")
	}
	return nil
}

func (p *DSNProvider) IsDeployed() bool {
	return p.deployed
}

func (p *DSNProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
