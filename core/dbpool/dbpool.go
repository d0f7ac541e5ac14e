// Package dbpool is the DB-handle instantiation of the C9 generic
// named-resource pool (core/respool), backed by gorm, per SPEC_FULL.md
// §2's domain-stack wiring of gorm.io/gorm + gorm.io/driver/sqlite.
package dbpool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/searchktools/naviserver/core/respool"
)

// Config mirrors spec.md §6's pools.* options.
type Config struct {
	DSN           string
	Connections   int           // pools.connections
	MaxIdle       time.Duration // pools.maxidle
	MaxOpen       time.Duration // pools.maxopen
	CheckInterval time.Duration // pools.checkinterval
}

// Pool is a named DB-handle pool.
type Pool struct {
	name string
	res  *respool.Pool[*gorm.DB]
	stop chan struct{}
}

// New opens cfg.Connections DB handles against dsn and starts the
// periodic sweeper at cfg.CheckInterval, per spec.md §4.9.
func New(name string, cfg Config, log *logrus.Logger) (*Pool, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	factory := func() (*gorm.DB, error) {
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	}
	closer := func(db *gorm.DB) {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	res, err := respool.New(name, "gorm/sqlite db handle pool", respool.Config{
		NHandles: cfg.Connections,
		MaxIdle:  cfg.MaxIdle,
		MaxOpen:  cfg.MaxOpen,
	}, factory, closer, log)
	if err != nil {
		return nil, err
	}

	p := &Pool{name: name, res: res, stop: make(chan struct{})}
	if cfg.CheckInterval > 0 {
		go p.sweepLoop(cfg.CheckInterval)
	}
	return p, nil
}

func (p *Pool) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.res.Sweep()
		case <-p.stop:
			return
		}
	}
}

// Get acquires n DB handles for owner (typically a *connpool.Conn or
// a goroutine-scoped token), honoring ctx's deadline, per spec.md
// §4.9's get(pool, n, deadline).
func (p *Pool) Get(ctx context.Context, owner any, n int) ([]*gorm.DB, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(365 * 24 * time.Hour)
	}
	return p.res.Get(owner, n, deadline)
}

// Put returns a handle, flushing/resetting it implicitly (gorm
// connections are stateless between uses; staleness is checked by the
// embedded respool.Pool).
func (p *Pool) Put(owner any, db *gorm.DB) { p.res.Put(owner, db) }

// Bounce marks every handle stale with a new epoch, per spec.md §4.9.
func (p *Pool) Bounce() { p.res.Bounce() }

// Close stops the sweeper goroutine and closes every idle handle in
// the free list, so a shutdown doesn't leak open sqlite connections.
func (p *Pool) Close() {
	close(p.stop)
	p.res.Close()
}

// Len reports the number of idle handles currently in the free list.
func (p *Pool) Len() int { return p.res.Len() }
