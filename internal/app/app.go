// Package app wires storage, services and the HTTP surface together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/mudler/xlog"

	"agenthub/internal/credentials"
	"agenthub/internal/db"
	"agenthub/internal/domain"
	"agenthub/internal/engine"
	"agenthub/internal/migrate"
	"agenthub/internal/repo"
	"agenthub/internal/server"
	"agenthub/internal/ticker"
	"agenthub/internal/ws"
)

// Version is stamped by the build; the default marks dev builds.
var Version = "0.1.0-dev"

// App holds the assembled service.
type App struct {
	Config  Config
	Conn    *sql.DB
	Repo    repo.Repo
	Engine  *engine.Engine
	Hub     *ws.Hub
	Ticker  *ticker.Ticker
	Handler http.Handler
}

// New opens storage, applies migrations and wires every component.
// Callers own the returned App and must Close it.
func New(cfg Config) (*App, error) {
	conn, err := db.Open(db.Config{URL: cfg.DBURL})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	signer := credentials.NewSigner(cfg.SigningSecret, cfg.TokenLifetime)
	creds := credentials.NewService(r, signer)
	eng := engine.New(r)
	hub := ws.NewHub(ws.Snapshots{
		Agents: func(ctx context.Context) ([]domain.Agent, error) {
			return r.ListAgents(ctx, repo.AgentFilters{})
		},
		Projects: func(ctx context.Context) ([]domain.Project, error) {
			return r.ListProjects(ctx, repo.ProjectFilters{})
		},
	})
	tick := ticker.New(r, hub, cfg.TickInterval)
	handler, err := server.New(server.Config{
		Engine:      eng,
		Credentials: creds,
		Signer:      signer,
		Hub:         hub,
		CORSOrigins: cfg.CORSOrigins,
		Version:     Version,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		Config:  cfg,
		Conn:    conn,
		Repo:    r,
		Engine:  eng,
		Hub:     hub,
		Ticker:  tick,
		Handler: handler,
	}, nil
}

// Run serves HTTP and ticks metrics until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Ticker.Start(); err != nil {
		return err
	}
	srv := &http.Server{Addr: a.Config.Addr(), Handler: a.Handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	xlog.Info("serving", "addr", a.Config.Addr())
	err := srv.ListenAndServe()
	a.Ticker.Stop()
	a.Hub.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases storage. Teardown failures are logged, not returned.
func (a *App) Close() {
	if err := a.Conn.Close(); err != nil {
		xlog.Warn("closing database", "error", err.Error())
	}
}
