package main

import (
	"cmp"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/restio/restio/pkg/api"
	"github.com/restio/restio/pkg/hook"
	"github.com/restio/restio/pkg/httputil"
	mw "github.com/restio/restio/pkg/httputil/middleware"
	"github.com/restio/restio/pkg/metrics"
	"github.com/restio/restio/pkg/query"
	"github.com/restio/restio/pkg/schema"
	"github.com/restio/restio/pkg/store/pgstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Starts an HTTP server that exposes PostgreSQL tables as resource collections`,
	Run:   runServer,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("api.pg.connString", "c", "", "PostgreSQL connection string")
	f.StringP("api.listenAddr", "l", "", "API server listen address")
	f.String("api.baseURL", "", "Base URL for generated links")
	f.String("api.schema", "", "PostgreSQL schema to expose")
	f.Int("api.paging.defaultLimit", 0, "Default page size")
	f.Int("api.paging.maxLimit", 0, "Maximum page size")
	f.Bool("api.allowClientIDs", false, "Accept client-generated ids on POST")
	f.String("api.oidc.clientID", "", "OIDC client ID")
	f.String("api.oidc.clientSecret", "", "OIDC client secret")
	f.String("api.oidc.issuer", "", "OIDC issuer URL")
	f.String("api.oidc.roleClaimKey", "", "JWT claim path for the caller role")
	f.Bool("api.metrics.enabled", false, "Expose Prometheus metrics")
	f.String("api.metrics.addr", "", "Prometheus metrics listen address")

	viper.BindPFlags(f)
	rootCmd.AddCommand(serveCmd)
}

// connectPool dials PostgreSQL with exponential backoff so the server
// survives starting before its database.
func connectPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.New(ctx, connString)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return pool, nil
}

func newLogger(level string) *zap.Logger {
	if level == "none" {
		return zap.NewNop()
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func runServer(cmd *cobra.Command, args []string) {
	if cfg == nil {
		log.Fatal("Configuration not loaded")
	}

	connString := cmp.Or(cfg.API.PG.ConnString, os.Getenv("RESTIO_PG_CONN_STRING"))
	if connString == "" {
		log.Fatal("PostgreSQL connection string required")
	}

	// flag overrides
	if listenAddr := viper.GetString("api.listenAddr"); listenAddr != "" {
		cfg.API.ListenAddr = listenAddr
	}

	logger := newLogger(logLevel)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := connectPool(ctx, connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()

	schemas, err := schema.Introspect(ctx, pool, cfg.API.Schema)
	if err != nil {
		log.Fatalf("Failed to introspect schema %q: %v", cfg.API.Schema, err)
	}
	logger.Info("introspected schema",
		zap.String("schema", cfg.API.Schema),
		zap.Strings("collections", schemas.Types()))

	hooks := hook.NewRegistry()
	policy := hook.AllowAll{}
	hook.RegisterAccessControl(hooks, policy)

	apiServer := api.New(
		pgstore.New(pool, logger),
		schemas,
		hooks,
		policy,
		api.Options{
			BaseURL: cfg.API.BaseURL,
			Limits: query.Limits{
				Default: cfg.API.Paging.DefaultLimit,
				Max:     cfg.API.Paging.MaxLimit,
			},
			AllowClientIDs: cfg.API.AllowClientIDs,
		},
		logger,
	)

	router := httputil.NewRouter()
	router.Use(mw.RequestID, mw.CORSWithOptions(nil))

	oidcConfig := mw.OIDCProviderConfig{
		ClientID:     cmp.Or(os.Getenv("RESTIO_OIDC_CLIENT_ID"), cfg.API.OIDC.ClientID),
		ClientSecret: cmp.Or(os.Getenv("RESTIO_OIDC_CLIENT_SECRET"), cfg.API.OIDC.ClientSecret),
		Issuer:       cmp.Or(os.Getenv("RESTIO_OIDC_ISSUER"), cfg.API.OIDC.Issuer),
	}
	if oidcConfig.ClientID != "" && oidcConfig.Issuer != "" {
		router.Use(mw.VerifyOIDCToken(oidcConfig, false))
	}

	router.Use(api.Negotiate, mw.Metrics)

	if logLevel != "none" {
		roleClaimKey := cfg.API.OIDC.RoleClaimKey
		router.Use(mw.LoggerWithOptions(&mw.LoggerOptions{
			Logger: logger,
			Format: func(reqID string, rec *mw.ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
				fields := []zap.Field{
					zap.String("req_id", reqID),
					zap.Int("status", rec.StatusCode),
					zap.String("method", r.Method),
					zap.String("url", r.URL.String()),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Duration("latency", latency),
				}
				if roleClaimKey != "" {
					fields = append(fields, zap.String("role", mw.Role(r, roleClaimKey)))
				}
				return fields
			},
		}))
	}

	apiServer.Mount(router)

	var wg sync.WaitGroup
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if cfg.API.Metrics.Enabled {
		metrics.StartPrometheusServer(metricsCtx, &wg, &metrics.PromServerOpts{
			Addr: cfg.API.Metrics.Addr,
		})
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := router.ListenAndServe(cfg.API.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}
	stopMetrics()
	wg.Wait()

	log.Println("Server gracefully stopped")
}
