// Package app wires the C1-C12 subsystems into one running server:
// config load, the shared C2 sock callback engine, the C3 driver's
// listen/accept/read-ahead loop, the C4 URL-space router, the C5
// filter/trace/cleanup chain, the C6 connection pool scheduler, the
// C7 response pipeline, the C8 writer/spooler, the C9 named-resource
// pools (dbpool/jobqueue), and the C10 callbacks registry, per
// spec.md's overall dataflow. Grounded on the teacher's app/app.go
// (config+engine composition root, signal-driven Run/Shutdown), but
// every subsystem it assembles here replaces the teacher's single
// monolithic core.Engine.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/naviserver/config"
	"github.com/searchktools/naviserver/core/callbacks"
	"github.com/searchktools/naviserver/core/connpool"
	"github.com/searchktools/naviserver/core/dbpool"
	"github.com/searchktools/naviserver/core/driver"
	"github.com/searchktools/naviserver/core/filter"
	nshttp "github.com/searchktools/naviserver/core/http"
	"github.com/searchktools/naviserver/core/jobqueue"
	"github.com/searchktools/naviserver/core/poller"
	"github.com/searchktools/naviserver/core/pools"
	"github.com/searchktools/naviserver/core/response"
	"github.com/searchktools/naviserver/core/urlspace"
	"github.com/searchktools/naviserver/core/writer"
)

// Handler is the application-level request callback registered into
// the URL-space router: given the dequeued Conn and the response
// pipeline bound to this App, it writes (or queues) the response and
// returns any error encountered, per spec.md §4.7's narrow write API.
type Handler func(c *connpool.Conn, p *response.Pipeline, sender writer.Sender) error

// AuthorizeFunc runs between the pre-auth and post-auth filter phases,
// per spec.md §4.5. The default AuthorizeFunc always permits the
// request; callers needing auth wire their own in with SetAuthorize.
type AuthorizeFunc func(c *connpool.Conn) filter.Disposition

// App is the composition root: one urlspace id, one filter chain, one
// ConnPool, and one Driver, sharing a single C2 sock callback engine.
// Multiple drivers/pools sharing the engine is supported by the
// underlying packages but App itself wires the common single-vserver
// case, matching spec.md §2's single-server walkthroughs.
type App struct {
	cfg *config.Config
	log *logrus.Logger

	engine    *poller.Engine
	bytePool  *pools.BytePool
	callbacks *callbacks.Registry
	router    *urlspace.Router
	vsID      int
	filters   *filter.Manager[*connpool.Conn]
	pipeline  *response.Pipeline
	wtr       *writer.Writer
	spooler   *writer.Spooler
	pool      *connpool.Pool
	drv       *driver.Driver
	listening bool

	dbpool   *dbpool.Pool
	jobqueue *jobqueue.Queue

	authorize AuthorizeFunc
}

// New builds an App from cfg: opens the sock callback engine, the
// byte pool, the urlspace router, the filter chain, the writer and
// spooler, the response pipeline, the default ConnPool, and the
// driver, wiring each the way its package doc describes. It does not
// start listening; call Listen (or just Run, which listens on
// cfg.Driver.Listen if Listen was never called).
func New(cfg *config.Config, log *logrus.Logger) (*App, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	engine, err := poller.New(log)
	if err != nil {
		return nil, fmt.Errorf("app: starting sock callback engine: %w", err)
	}

	router := urlspace.NewRouter(urlspace.DefaultMaxSpaces, 4096)
	vsID, err := router.AllocID()
	if err != nil {
		return nil, fmt.Errorf("app: allocating urlspace id: %w", err)
	}

	bytePool := pools.NewBytePool()
	spooler := writer.NewSpooler(engine, bytePool, writer.SpoolerConfig{
		BufSize: 32 * 1024,
	}, log)
	wtr := writer.New(engine, bytePool, writer.Config{
		MaxSize:   cfg.Writer.MaxSize,
		Streaming: cfg.Writer.Streaming,
		BufSize:   32 * 1024,
	}, log)

	pipeline := response.New(response.Config{
		ServerSignature: cfg.Server.Signature,
		NoticeDetail:    cfg.Server.NoticeDetail,
		ErrorMinSize:    cfg.Server.ErrorMinSize,
	}, wtr, log)

	a := &App{
		cfg:       cfg,
		log:       log,
		engine:    engine,
		bytePool:  bytePool,
		callbacks: callbacks.New(log),
		router:    router,
		vsID:      vsID,
		filters:   filter.NewManager[*connpool.Conn](),
		pipeline:  pipeline,
		wtr:       wtr,
		spooler:   spooler,
		authorize: func(*connpool.Conn) filter.Disposition { return filter.OK },
	}

	a.pool = connpool.New("default", connpool.Config{
		MinThreads:    cfg.Pool.MinThreads,
		MaxThreads:    cfg.Pool.MaxThreads,
		ThreadTimeout: cfg.Pool.ThreadTimeout,
		HighWaterMark: cfg.Pool.HighWaterMark,
		LowWaterMark:  cfg.Pool.LowWaterMark,
	}, nil, a.serve, log)

	parseLimits := nshttp.DefaultLimits
	parseLimits.MaxInput = cfg.Driver.MaxInput

	a.drv = driver.New("default", driver.Limits{
		MaxInput:  cfg.Driver.MaxInput,
		MaxUpload: cfg.Driver.MaxUpload,
		ReadAhead: cfg.Driver.ReadAhead,
		KeepWait:  cfg.Driver.KeepWait,
		SendWait:  cfg.Driver.SendWait,
		RecvWait:  cfg.Driver.RecvWait,
		Parse:     parseLimits,
	}, engine, bytePool, spooler, a.selectPool, log)

	if cfg.Pools.DSN != "" {
		db, err := dbpool.New("default", dbpool.Config{
			DSN:           cfg.Pools.DSN,
			Connections:   cfg.Pools.Connections,
			MaxIdle:       cfg.Pools.MaxIdle,
			MaxOpen:       cfg.Pools.MaxOpen,
			CheckInterval: cfg.Pools.CheckInterval,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("app: opening db pool: %w", err)
		}
		a.dbpool = db
	}

	if cfg.JobQueue.Enable {
		a.jobqueue = jobqueue.New("default", cfg.JobQueue.Workers, log)
	}

	return a, nil
}

func (a *App) selectPool(method, url string) *connpool.Pool { return a.pool }

// HandleFunc registers h at (method, pattern) in the App's default
// urlspace, per spec.md §4.4's Set.
func (a *App) HandleFunc(method, pattern string, h Handler) error {
	return a.router.Set(a.vsID, method, pattern, h, 0, nil)
}

// SetAuthorize overrides the default always-permit AuthorizeFunc run
// between the pre-auth and post-auth filter phases.
func (a *App) SetAuthorize(fn AuthorizeFunc) { a.authorize = fn }

// Filters, Callbacks, DBPool, and JobQueue expose the wired subsystems
// for registration calls (RegisterFilter, AtStartup, Get, Submit, ...)
// made before Run.
func (a *App) Filters() *filter.Manager[*connpool.Conn] { return a.filters }
func (a *App) Callbacks() *callbacks.Registry           { return a.callbacks }
func (a *App) DBPool() *dbpool.Pool                     { return a.dbpool }
func (a *App) JobQueue() *jobqueue.Queue                { return a.jobqueue }

// Listen opens the driver's listen socket on cfg.Driver.Listen (or
// addr if non-empty).
func (a *App) Listen(addr string) error {
	if addr == "" {
		addr = a.cfg.Driver.Listen
	}
	if err := a.drv.Listen(addr); err != nil {
		return err
	}
	a.listening = true
	return nil
}

// serve is the ConnPool worker handler (spec.md §4.6's Work): run the
// filter/trace/cleanup chain around routing and dispatch, then decide
// the Sock's fate.
func (a *App) serve(c *connpool.Conn) {
	sender := driver.NewSender(c.Sock.FD)
	c.KeepAlive = c.Request != nil && c.Request.KeepAlive

	// Registered filter/trace/cleanup procs only receive (Conn, arg) —
	// core/filter has no dependency on core/response to avoid an
	// import cycle (see DESIGN.md). A proc that needs to write a
	// response itself (e.g. a pre-auth filter rejecting a request)
	// fetches the pipeline and sender back out of Conn's local storage.
	c.SetLocal("response.pipeline", a.pipeline)
	c.SetLocal("response.sender", sender)

	_, err := a.filters.Run(c, a.authorize, nil, func(conn *connpool.Conn, _ any) filter.Disposition {
		return a.dispatch(conn, sender)
	}, nil)
	if err != nil {
		a.log.WithError(err).Warn("app: request pipeline failed")
		c.KeepAlive = false
		if !c.HeadersSent {
			_ = a.pipeline.ReturnNotice(c, sender, c.Sock.FD, 500, "Internal Server Error",
				"An error occurred processing the request.")
		}
	}

	a.finishConn(c, sender)
}

// dispatch looks the request up in the urlspace router and invokes
// its registered Handler, turning a miss or handler error into a
// ReturnNotice response, per spec.md §4.4/§4.7.
func (a *App) dispatch(c *connpool.Conn, sender writer.Sender) filter.Disposition {
	data, ok := a.router.GetFast(a.vsID, c.Request.Method, c.Request.URL)
	if !ok {
		if err := a.pipeline.ReturnNotice(c, sender, c.Sock.FD, 404, "Not Found",
			"The requested URL was not found on this server."); err != nil {
			a.log.WithError(err).Warn("app: writing 404 failed")
		}
		return filter.OK
	}

	h, ok := data.(Handler)
	if !ok {
		a.log.WithField("url", c.Request.URL).Error("app: urlspace entry is not a Handler")
		_ = a.pipeline.ReturnNotice(c, sender, c.Sock.FD, 500, "Internal Server Error", "misconfigured route")
		return filter.Error
	}

	if err := h(c, a.pipeline, sender); err != nil {
		a.log.WithError(err).Warn("app: handler returned error")
		if !c.HeadersSent {
			_ = a.pipeline.ReturnNotice(c, sender, c.Sock.FD, 500, "Internal Server Error",
				"An error occurred processing the request.")
		}
		return filter.Error
	}
	return filter.OK
}

// finishConn flushes a buffered response a handler never explicitly
// closed (one that only called SetHeader/AppendBody-style operations
// without a final Return*/Close), then closes the Sock or hands it
// back to the driver for another keep-alive request, per spec.md
// §4.3's Resume/close decision. A handler that already finished the
// response itself (ReturnData/ReturnNotice/ReturnOpenFD, or a
// streamed WriteData) left c.HeadersSent true, so this skips flushing
// again rather than resending the buffered body a second time.
func (a *App) finishConn(c *connpool.Conn, sender writer.Sender) {
	if !c.HeadersSent {
		if err := a.pipeline.Close(c, sender, c.Sock.FD); err != nil {
			a.log.WithError(err).Debug("app: final flush failed")
		}
	}
	if c.KeepAlive {
		a.drv.Resume(c.Sock)
		return
	}
	a.drv.CloseSock(c.Sock)
}

// Run starts listening (if Listen was never called explicitly), drives
// the callbacks registry's prestartup/startup/ready hooks, blocks
// until SIGINT or SIGTERM, then drains in-flight work and shuts every
// subsystem down, per spec.md §2's process lifecycle. Grounded on the
// teacher's app.go awaitSignal, replacing its unfinished "TODO:
// graceful shutdown" with a real drain.
func (a *App) Run() error {
	a.callbacks.RunPreStartup()

	if !a.listening {
		if err := a.Listen(""); err != nil {
			return err
		}
	}

	a.callbacks.RunStartup()
	a.callbacks.RunReady()
	a.log.WithField("listen", a.cfg.Driver.Listen).Info("naviserver: accepting connections")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return a.Shutdown(30 * time.Second)
}

// Shutdown drains the default ConnPool, waits for in-flight
// writer/spooler transfers, runs the AtShutdown and AtExit callback
// lists, and stops the sock callback engine, bounding the whole drain
// at timeout.
func (a *App) Shutdown(timeout time.Duration) error {
	a.log.Info("naviserver: shutting down")
	a.callbacks.RunShutdown()

	deadline := time.Now().Add(timeout)
	_ = a.drv.Close()
	a.pool.Shutdown(deadline)

	var g errgroup.Group
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	g.Go(func() error { return a.wtr.WaitIdle(ctx) })
	g.Go(func() error { return a.spooler.WaitIdle(ctx) })
	if err := g.Wait(); err != nil {
		a.log.WithError(err).Warn("naviserver: writer/spooler drain did not finish cleanly")
	}

	if a.jobqueue != nil {
		a.jobqueue.Close()
	}
	if a.dbpool != nil {
		a.dbpool.Close()
	}

	a.engine.Shutdown(deadline)
	a.callbacks.RunExit()
	return nil
}
