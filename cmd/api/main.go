package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	apppkg "github.com/aidly/aidly-go/cmd/api/app"
	"github.com/aidly/aidly-go/cmd/api/auth"
	reportsapi "github.com/aidly/aidly-go/cmd/api/reports"
	"github.com/aidly/aidly-go/cmd/api/slas"
	"github.com/aidly/aidly-go/cmd/api/webhooks"
	"github.com/aidly/aidly-go/cmd/api/ws"
	"github.com/aidly/aidly-go/internal/businesshours"
	"github.com/aidly/aidly-go/internal/reports"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	_ = godotenv.Load()
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cal, err := businesshours.New(cfg.BusinessHours)
	if err != nil {
		log.Fatal().Err(err).Msg("business hours config")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	// Migrate (embedded goose) using the pgx stdlib driver
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("goose dialect")
	}
	sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("sql open for goose")
	}
	if err := goose.UpContext(ctx, sqldb, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}
	_ = sqldb.Close()

	var keyf jwt.Keyfunc
	if cfg.JWKSURL != "" {
		keyf, err = jwksKeyfunc(ctx, cfg.JWKSURL)
		if err != nil {
			log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("fetch jwks")
		}
	}

	var mc *minio.Client
	if cfg.MinIOEndpoint != "" {
		mc, err = minio.New(cfg.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccess, cfg.MinIOSecret, ""),
			Secure: cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("minio init")
		}
	}
	var store apppkg.ObjectStore
	if mc != nil {
		store = mc
	} else if cfg.FileStorePath != "" {
		if err := os.MkdirAll(cfg.FileStorePath, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.FileStorePath).Msg("create filestore path")
		}
		store = &apppkg.FsObjectStore{Base: cfg.FileStorePath}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	if cfg.AuthMode == "local" && cfg.Env == "dev" {
		if err := seedLocalAdmin(ctx, pool, cfg.AdminPassword); err != nil {
			log.Error().Err(err).Msg("seed local admin")
		}
	}

	eng := reports.NewEngine(pool, store, cfg.MinIOBucket, cfg.StatementTimeout, log.Logger)
	a := apppkg.NewApp(cfg, pool, keyf, store, rdb, eng, cal)

	hub := ws.NewHub(rdb)
	go hub.Run(ctx)
	routes(a, hub)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen")
	}
}

func routes(a *apppkg.App, hub *ws.Hub) {
	r := a.R
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/login", auth.Login(a))
	r.POST("/webhooks/email-inbound", webhooks.EmailInbound(a))

	authed := r.Group("/")
	authed.Use(auth.Middleware(a))
	authed.GET("/me", auth.Me)

	authed.GET("/reports", reportsapi.List(a))
	authed.POST("/reports", auth.RequireRole("admin"), reportsapi.Create(a))
	authed.GET("/reports/:id", reportsapi.Get(a))
	authed.POST("/reports/:id/execute", auth.RequireRole("manager"), reportsapi.Execute(a))
	authed.POST("/reports/:id/export", auth.RequireRole("manager"), reportsapi.Export(a))
	authed.GET("/reports/:id/stats", reportsapi.Stats(a))
	authed.GET("/executions/:id", reportsapi.GetExecution(a))
	authed.GET("/executions/:id/download", reportsapi.Download(a))

	authed.POST("/tickets/:id/first-response", auth.RequireRole("agent"), slas.FirstResponse(a))
	authed.GET("/tickets/:id/sla", slas.Metrics(a))

	authed.GET("/ws", func(c *gin.Context) {
		conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		cl := ws.NewClient(hub, conn)
		hub.Register(cl)
		go cl.WritePump(c.Request.Context())
		cl.ReadPump()
	})
}

// jwksKeyfunc fetches the JWKS once and refreshes it periodically.
func jwksKeyfunc(ctx context.Context, url string) (jwt.Keyfunc, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	setPtr := &set
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if newSet, err := jwk.Fetch(context.Background(), url, jwk.WithHTTPClient(httpClient)); err == nil {
				*setPtr = newSet
			}
		}
	}()
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if key, ok := (*setPtr).LookupKeyID(kid); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		it := (*setPtr).Iterate(context.Background())
		if it.Next(context.Background()) {
			pair := it.Pair()
			if key, ok := pair.Value.(jwk.Key); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		return nil, fmt.Errorf("no jwk for kid: %s", kid)
	}, nil
}

func seedLocalAdmin(ctx context.Context, pool *pgxpool.Pool, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `
		insert into users (email, display_name, password_hash, roles)
		values ('admin@localhost', 'Admin', $1, '{admin}')
		on conflict (email) do nothing`, string(hash))
	return err
}
