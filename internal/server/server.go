// Package server orchestrates all components: store, resource dispatchers,
// gRPC and COMMS transports, change events and the HTTP health endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/morezero/resource-rpc/internal/config"
	"github.com/morezero/resource-rpc/internal/todos"
	"github.com/morezero/resource-rpc/pkg/commsrpc"
	"github.com/morezero/resource-rpc/pkg/commsutil"
	"github.com/morezero/resource-rpc/pkg/db"
	"github.com/morezero/resource-rpc/pkg/events"
	"github.com/morezero/resource-rpc/pkg/grpcsvc"
	"github.com/morezero/resource-rpc/pkg/manifest"
	"github.com/morezero/resource-rpc/pkg/metrics"
	"github.com/morezero/resource-rpc/pkg/resource"
	"github.com/morezero/resource-rpc/pkg/store"
)

const logPrefix = "server:server"

// Server is the resourced orchestrator.
type Server struct {
	cfg         *config.Config
	manifest    *manifest.Manifest
	defs        []*resource.Definition
	dispatchers map[string]*resource.Dispatcher
	bindings    []resource.Binding
	metrics     *metrics.Collector
	checks      []healthCheck

	nc         *comms.Conn
	pool       *pgxpool.Pool
	grpcServer *grpc.Server
	httpServer *http.Server
	subs       []*comms.Subscription
}

// Definitions returns the resources served by resourced.
func Definitions() ([]*resource.Definition, error) {
	def, err := todos.Definition()
	if err != nil {
		return nil, err
	}
	return []*resource.Definition{def}, nil
}

// Models returns the tables backing Definitions, by resource name.
func Models() map[string]*db.Model {
	return map[string]*db.Model{todos.Name: todos.Model}
}

// Migrations loads the SQL migrations: from dir when set, otherwise the ones
// embedded with the resources.
func Migrations(dir string) ([]string, error) {
	if dir != "" {
		return db.LoadMigrationFiles(dir)
	}
	return db.LoadMigrationFS(todos.Migrations())
}

// PostgresStores opens a table store for every model.
func PostgresStores(q db.Querier) (map[string]store.Store, error) {
	out := make(map[string]store.Store)
	for name, m := range Models() {
		t, err := db.NewTable(q, m)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// MemoryStores returns an empty in-memory store for every model.
func MemoryStores() map[string]store.Store {
	out := make(map[string]store.Store)
	for name := range Models() {
		out[name] = store.NewMemory(store.WithTimestamps())
	}
	return out
}

// newServer builds the resource layer: definitions, dispatchers and the
// manifest bindings. It opens no network connections.
func newServer(cfg *config.Config, stores map[string]store.Store, publisher events.EventPublisher) (*Server, error) {
	m, err := manifest.Load(todos.Manifest, cfg.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load manifest: %w", logPrefix, err)
	}
	defs, err := Definitions()
	if err != nil {
		return nil, fmt.Errorf("%s - invalid resource definition: %w", logPrefix, err)
	}

	s := &Server{
		cfg:         cfg,
		manifest:    m,
		defs:        defs,
		dispatchers: make(map[string]*resource.Dispatcher, len(defs)),
		metrics:     metrics.New(),
	}
	for _, def := range defs {
		s.dispatchers[def.Name()] = resource.NewDispatcher(def, stores[def.Name()],
			resource.WithObserver(s.metrics),
			resource.WithPublisher(publisher),
		)
	}

	s.bindings, err = m.Bindings(todos.Types, s.dispatchers)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to bind manifest methods: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Serving %d resources through %d methods of %s", logPrefix, len(defs), len(s.bindings), m.GRPCService))
	return s, nil
}

// serviceName is the service token used in request subjects.
func (s *Server) serviceName() string {
	if s.cfg.ServiceName != "" {
		return s.cfg.ServiceName
	}
	return s.manifest.Name
}

// subject returns the COMMS request subject of def.
func (s *Server) subject(def *resource.Definition) string {
	return commsutil.BuildResourceSubject(s.cfg.SubjectPrefix, s.serviceName(), def.Name(), def.Version().Major())
}

// newGRPCServer creates a gRPC server with the manifest service registered.
func (s *Server) newGRPCServer() (*grpc.Server, error) {
	srv := grpc.NewServer(grpc.UnaryInterceptor(grpcsvc.LoggingInterceptor()))
	if err := grpcsvc.Register(srv, s.manifest.GRPCService, s.bindings); err != nil {
		return nil, err
	}
	return srv, nil
}

// subscribe serves every resource on its COMMS subject.
func (s *Server) subscribe(ctx context.Context, nc *comms.Conn) error {
	limit := commsrpc.RateLimit{}
	if s.cfg.RateLimitRPS > 0 {
		limit = commsrpc.RateLimit{Rate: rate.Limit(s.cfg.RateLimitRPS), Burst: s.cfg.RateLimitBurst}
	}
	for _, def := range s.defs {
		router, err := commsrpc.NewRouter(def.Name(), s.bindings, limit)
		if err != nil {
			return err
		}
		sub, err := commsrpc.NewServer(ctx, router, s.cfg.RequestTimeout).Subscribe(nc, s.subject(def))
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting resourced", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := start(ctx, cfg)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	cancel()
	s.shutdown(context.Background())
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// SetupLogging installs the default slog text handler at the given level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// start connects every component. On error everything opened so far is closed.
func start(ctx context.Context, cfg *config.Config) (s *Server, err error) {
	var (
		nc     *comms.Conn
		pool   *pgxpool.Pool
		stores map[string]store.Store
	)
	defer func() {
		if err != nil {
			if nc != nil {
				nc.Close()
			}
			if pool != nil {
				pool.Close()
			}
		}
	}()

	// Step 1: COMMS connection and change event publisher
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err = commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, commsutil.ConnectOptions{})
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
	}

	// Step 2: store
	switch cfg.StoreDriver {
	case config.StoreMemory:
		stores = MemoryStores()
		slog.Info(fmt.Sprintf("%s - Using in-memory store", logPrefix))
	default:
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		if cfg.RunMigrations {
			migrationSQL, err := Migrations(cfg.MigrationPath)
			if err != nil {
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		if stores, err = PostgresStores(pool); err != nil {
			return nil, err
		}
	}

	// Step 3: resources. The publisher needs the manifest name, so the
	// dispatchers get a forwarding publisher that is pointed at COMMS below.
	forward := &forwardingPublisher{target: publisher}
	s, err = newServer(cfg, stores, forward)
	if err != nil {
		return nil, err
	}
	s.nc, s.pool = nc, pool
	if pool != nil {
		s.checks = append(s.checks, healthCheck{Name: "database", Check: pool.Ping})
	}
	if nc != nil {
		global := cfg.ChangeEventSubject
		if global == "" {
			global = s.manifest.ChangeEvents.Global
		}
		forward.target = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
			Service:             s.serviceName(),
			GlobalChangeSubject: global,
		})
		s.checks = append(s.checks, healthCheck{Name: "comms", Check: commsCheck(nc)})

		// Step 4: COMMS subscriptions
		if err = s.subscribe(ctx, nc); err != nil {
			return nil, err
		}
	}

	// Step 5: gRPC
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			s.unsubscribe()
			return nil, fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, cfg.GRPCAddr, err)
		}
		if s.grpcServer, err = s.newGRPCServer(); err != nil {
			lis.Close()
			s.unsubscribe()
			return nil, err
		}
		go func() {
			slog.Info(fmt.Sprintf("%s - gRPC server listening on %s", logPrefix, lis.Addr()))
			if err := s.grpcServer.Serve(lis); err != nil {
				slog.Error(fmt.Sprintf("%s - gRPC server error: %v", logPrefix, err))
			}
		}()
	}

	// Step 6: HTTP health, metrics and index
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - resourced is ready", logPrefix))
	return s, nil
}

func (s *Server) unsubscribe() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	s.subs = nil
}

func (s *Server) shutdown(ctx context.Context) {
	s.unsubscribe()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// forwardingPublisher lets the publisher be chosen after the dispatchers exist.
type forwardingPublisher struct {
	target events.EventPublisher
}

func (f *forwardingPublisher) PublishChanged(ctx context.Context, event *events.ResourceChangedEvent) error {
	return f.target.PublishChanged(ctx, event)
}

func commsCheck(nc *comms.Conn) func(context.Context) error {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("comms status %s", nc.Status())
		}
		return nil
	}
}
