// Package server wires configuration, storage backends and services
// together and runs the file proxy HTTP server until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/taskvault/internal/cryptox"
	"github.com/dmitrijs2005/taskvault/internal/logging"
	"github.com/dmitrijs2005/taskvault/internal/server/auth"
	"github.com/dmitrijs2005/taskvault/internal/server/capability"
	"github.com/dmitrijs2005/taskvault/internal/server/checksum"
	"github.com/dmitrijs2005/taskvault/internal/server/config"
	"github.com/dmitrijs2005/taskvault/internal/server/fileproxy"
	"github.com/dmitrijs2005/taskvault/internal/server/httpserver"
	"github.com/dmitrijs2005/taskvault/internal/server/keys"
	"github.com/dmitrijs2005/taskvault/internal/server/locks"
	"github.com/dmitrijs2005/taskvault/internal/server/objectstore"
	"github.com/dmitrijs2005/taskvault/internal/server/privatedata"
	"github.com/dmitrijs2005/taskvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/taskvault/internal/server/secrets"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zapcore"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	redis  *redis.Client

	httpServer  *httpserver.HTTPServer
	signer      *capability.JWTSigner
	privateData *privatedata.Service
	checksums   *checksum.Engine
}

// NewLogger returns a rotating zap logger when a log file is configured,
// and a JSON slog logger on stdout otherwise.
func NewLogger(c *config.Config) logging.Logger {
	if c.LogFile != "" {
		return logging.NewRotatingZapLogger(c.LogFile, zapcore.InfoLevel)
	}
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := NewLogger(c)

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if c.RunMigrations {
		if err := rm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})

	codec, err := cryptox.NewCodec([]byte(c.FileEncryptionKey))
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("codec: %w", err)
	}

	tasks := rm.Tasks(db)
	projects := rm.Projects(db)
	store := objectstore.NewStore(c, codec, logger)
	resolver := keys.NewResolver(secrets.NewEnvStore(), c)
	signer := capability.NewJWTSigner(c.SecretKey)

	pd := privatedata.NewService(store, projects, resolver, tasks, c, logger)
	cs := checksum.NewEngine(projects, pd.Reader(), c, logger)

	proxy := fileproxy.NewService(tasks, projects, locks.NewRedisLockManager(rdb), store, resolver, signer, c, logger)

	hs := httpserver.NewHTTPServer(c.EndpointAddrHTTP, logger)
	fileproxy.NewHandler(proxy, logger).Register(hs.Engine(), auth.RequireUser([]byte(c.SecretKey), logger))

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		redis:       rdb,
		httpServer:  hs,
		signer:      signer,
		privateData: pd,
		checksums:   cs,
	}, nil
}

// Signer issues capability tokens for links handed out to clients.
func (app *App) Signer() *capability.JWTSigner { return app.signer }

// PrivateData stores private fields and gold answers for task producers.
func (app *App) PrivateData() *privatedata.Service { return app.privateData }

// Checksums computes duplicate-detection digests for task producers.
func (app *App) Checksums() *checksum.Engine { return app.checksums }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close(context.Background())
}

func (app *App) close(ctx context.Context) {
	if err := app.redis.Close(); err != nil {
		app.logger.Error(ctx, "redis close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
	if z, ok := app.logger.(*logging.ZapLogger); ok {
		_ = z.Sync()
	}
}
