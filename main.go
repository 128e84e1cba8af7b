package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"kanban/api"
	"kanban/auth"
	"kanban/domain"
	"kanban/mail"
	"kanban/storage"
)

const shutdownTimeout = 10 * time.Second

// rowStore is implemented by every storage backend.
type rowStore interface {
	domain.BoardStorage
	domain.TaskStorage
	auth.UserStorage
	Ping(ctx context.Context) error
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kanban",
		Short:         "Multi-user kanban board service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newStorageInitCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Getenv)
			if err != nil {
				return err
			}
			if err := cfg.validateServe(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg))
		},
	}
}

func newLogger(cfg config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	}
	return logger
}

func serve(ctx context.Context, cfg config, logger *log.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	redisOpts, err := redisOptions(cfg.RedisConn)
	if err != nil {
		return err
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	var jwks *keyfunc.JWKS
	if cfg.JWKSURL != "" {
		jwks, err = keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			return err
		}
		defer jwks.EndBackground()
	}
	tokens, err := auth.NewTokens([]byte(cfg.JWTSecret), cfg.Issuer, cfg.Audience, jwks)
	if err != nil {
		return err
	}
	tokens.SetKeyCacheTTL(cfg.JWKSCacheTTL)

	var mailer auth.Mailer = mail.NewLogMailer(logger)
	if cfg.MailQueue != "" {
		qm, err := mail.NewQueueMailer(cfg.StorageConn, cfg.MailQueue)
		if err != nil {
			return err
		}
		mailer = qm
	}

	authSvc := auth.NewService(store, auth.NewRedisStore(rc), tokens, mailer, auth.Options{
		SessionTTL: cfg.SessionTTL,
		LinkTTL:    cfg.LinkTTL,
	}, logger)
	boards := domain.NewBoardService(store)
	tasks := domain.NewTaskService(store, boards)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	cors := middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}
	if cfg.PublicURL != "" {
		cors.AllowOrigins = []string{cfg.PublicURL}
		cors.AllowCredentials = true
	}
	e.Use(middleware.CORSWithConfig(cors))
	e.Use(echoprometheus.NewMiddleware("kanban"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{
		Boards:       boards,
		Tasks:        tasks,
		Auth:         authSvc,
		Store:        store,
		PublicURL:    cfg.PublicURL,
		CookieSecure: cfg.CookieSecure,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.Backend}).Info("listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects to the configured backend. The returned func releases
// its resources.
func openStore(ctx context.Context, cfg config) (rowStore, func(), error) {
	switch cfg.Backend {
	case backendPostgres:
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case backendTables:
		tables, err := storage.NewTables(cfg.StorageConn, storage.TableNames{
			Boards: cfg.BoardsTable,
			Tasks:  cfg.TasksTable,
			Users:  cfg.UsersTable,
		})
		if err != nil {
			return nil, nil, err
		}
		return tables, func() {}, nil
	default:
		lite, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return lite, func() { _ = lite.Close() }, nil
	}
}
