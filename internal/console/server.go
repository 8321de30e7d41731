package console

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/celeratec/cipp-console/internal/config"
	"github.com/celeratec/cipp-console/internal/diagnose"
	"github.com/celeratec/cipp-console/internal/directory"
	"github.com/celeratec/cipp-console/internal/rules"
	"github.com/celeratec/cipp-console/internal/storage"
	"go.uber.org/zap"
)

const (
	sessionSweepInterval = time.Minute
	auditPurgeInterval   = 24 * time.Hour
)

// Server owns the console's long-running pieces and their lifecycle.
type Server struct {
	cfg    *config.ConsoleConfig
	logger *zap.Logger

	db       *sql.DB
	audit    *AuditLogger
	sessions *SessionStore
	hub      *EventHub
	notifier *Dispatcher
	nats     *NATSPublisher
	api      *HTTPAPI

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	httpSrv *http.Server
	addr    net.Addr
}

// NewServer builds every component from cfg. Optional channels (audit
// database, Discord, NATS) are only set up when configured.
func NewServer(cfg *config.ConsoleConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
	if err := s.build(); err != nil {
		cancel()
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	cfg := s.cfg

	registry, err := LoadRegistry(cfg.Rules)
	if err != nil {
		return err
	}

	dir, err := directory.NewClient(directory.Options{
		BaseURL:           cfg.Directory.BaseURL,
		AuthToken:         cfg.Directory.AuthToken,
		Timeout:           time.Duration(cfg.Directory.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.Directory.RequestsPerSecond,
		Burst:             cfg.Directory.Burst,
		Probes:            probesFromConfig(cfg.Directory.Probes),
		Logger:            s.logger.Named("directory"),
	})
	if err != nil {
		return fmt.Errorf("create directory client: %w", err)
	}

	var store *storage.Storage
	if cfg.Security.Audit.Enabled {
		s.db, err = storage.Open(s.ctx, cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		store = storage.NewStorage(s.db)
	}
	s.audit = NewAuditLogger(store, s.logger.Named("audit"))

	s.sessions, err = NewSessionStore(
		cfg.Remediation.MaxSessions,
		time.Duration(cfg.Remediation.SessionTTLSec)*time.Second,
		s.logger.Named("sessions"),
	)
	if err != nil {
		return err
	}

	s.hub = NewEventHub(s.ctx, cfg.Server.AuthToken, cfg.Server.AllowedOrigins, s.logger.Named("stream"))

	var notifiers []Notifier
	if cfg.Channels.Discord.BotToken != "" {
		discord, err := NewDiscordNotifier(cfg.Channels.Discord.BotToken, cfg.Channels.Discord.AlertsChannel, s.logger.Named("discord"))
		if err != nil {
			return err
		}
		notifiers = append(notifiers, discord)
	}
	if cfg.Channels.NATS.URL != "" {
		s.nats, err = NewNATSPublisher(cfg.Channels.NATS.URL, cfg.Channels.NATS.Subject, s.logger.Named("nats"))
		if err != nil {
			return err
		}
		notifiers = append(notifiers, s.nats)
	}
	s.notifier = NewDispatcher(s.logger.Named("notify"), notifiers...)

	analyzer := diagnose.NewAnalyzer(time.Duration(cfg.Diagnostics.ProbeTimeoutSec)*time.Second, s.logger.Named("diagnose"))

	s.api = NewHTTPAPI(registry, dir, analyzer, s.sessions, cfg.Server.AuthToken, s.logger.Named("api"))
	s.api.SetHub(s.hub)
	s.api.SetAuditLogger(s.audit)
	s.api.SetNotifier(s.notifier)
	s.api.SetFixRateLimit(cfg.Remediation.FixRatePerMinute, cfg.Remediation.FixBurst)
	s.api.SetFixTimeout(3 * time.Duration(cfg.Directory.TimeoutSec) * time.Second)
	s.api.SetHealthChecker(NewHealthChecker(s.db, s.hub, dir, s.sessions))
	if s.nats != nil {
		s.api.AddTransitionSink(s.nats.PublishTransition)
	}
	return nil
}

// LoadRegistry builds the built-in catalogs and extends them with any
// configured YAML catalog files.
func LoadRegistry(cfg config.RulesConfig) (*rules.Registry, error) {
	registry, err := rules.NewDefaultRegistry(cfg.MinCatalogVersion)
	if err != nil {
		return nil, fmt.Errorf("load rule catalogs: %w", err)
	}
	for _, path := range cfg.CatalogFiles {
		catalog, err := rules.LoadCatalogFile(path)
		if err != nil {
			return nil, err
		}
		if err := registry.Extend(catalog); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	return registry, nil
}

func probesFromConfig(in []config.ProbeConfig) []directory.Probe {
	if len(in) == 0 {
		return nil
	}
	out := make([]directory.Probe, 0, len(in))
	for _, p := range in {
		out = append(out, directory.Probe{ID: p.ID, Area: p.Area, Path: p.Path, SavePath: p.SavePath})
	}
	return out
}

// Start binds the HTTP port and starts background workers.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}

	tlsCfg, err := LoadTLSConfig(s.cfg.Security.TLS)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Server.HTTPPort, err)
	}

	s.addr = listener.Addr()
	s.httpSrv = &http.Server{
		Handler:      s.api.Handler(),
		TLSConfig:    tlsCfg,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()
	go func() {
		defer s.wg.Done()
		s.notifier.Run(s.ctx)
	}()
	go s.maintenanceLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if tlsCfg != nil {
			err = s.httpSrv.ServeTLS(listener, "", "")
		} else {
			err = s.httpSrv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http api server error", zap.Error(err))
		}
	}()

	s.running = true
	s.logger.Info("console started",
		zap.String("addr", s.addr.String()),
		zap.Bool("tls", tlsCfg != nil),
		zap.Bool("audit", s.audit.Enabled()),
	)
	return nil
}

// Stop drains HTTP requests, stops workers and closes external connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("console shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http api shutdown error", zap.Error(err))
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("console shutdown timeout exceeded")
	}

	s.closeResources()
	s.logger.Info("console shutdown complete")
	return nil
}

func (s *Server) closeResources() {
	if s.nats != nil {
		s.nats.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close audit database", zap.Error(err))
		}
	}
}

func (s *Server) maintenanceLoop() {
	defer s.wg.Done()

	sweep := time.NewTicker(sessionSweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(auditPurgeInterval)
	defer purge.Stop()

	retention := time.Duration(s.cfg.Security.Audit.RetentionDays) * 24 * time.Hour
	s.audit.Purge(s.ctx, retention)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sweep.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.logger.Debug("idle sessions expired", zap.Int("count", n))
			}
		case <-purge.C:
			s.audit.Purge(s.ctx, retention)
		}
	}
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr is the bound listener address, nil until Start succeeds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) StreamClients() int {
	return s.hub.ClientCount()
}

func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}
