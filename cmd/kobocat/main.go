package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/mirror"
	"github.com/gushil/kobocat/api/profiles"
	"github.com/gushil/kobocat/api/registration"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/api/services"
	"github.com/gushil/kobocat/utils/logging"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type KeycloakEnv struct {
	ServerUrl     string `env:"KEYCLOAK_SERVER_URL"`
	Realm         string `env:"KEYCLOAK_REALM" envDefault:"kobocat"`
	ClientId      string `env:"KEYCLOAK_CLIENT_ID" envDefault:"kobocat"`
	AdminUsername string `env:"KEYCLOAK_ADMIN_USER"`
	AdminPassword string `env:"KEYCLOAK_ADMIN_PASSWORD"`
}

type SurrealEnv struct {
	Url       string `env:"SURREAL_URL"`
	Namespace string `env:"SURREAL_NAMESPACE" envDefault:"kobocat"`
	Database  string `env:"SURREAL_DATABASE" envDefault:"submissions"`
	Username  string `env:"SURREAL_USER"`
	Password  string `env:"SURREAL_PASSWORD"`
}

type KobocatEnv struct {
	DbType      string `env:"DB_TYPE" envDefault:"postgres"`
	DatabaseUri string `env:"DATABASE_URI,required"`

	LogDir    string `env:"LOG_DIR" envDefault:"logs"`
	JwtSecret string `env:"JWT_SECRET,required"`

	PublicUrl      string   `env:"PUBLIC_URL" envDefault:"http://localhost:8000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminEmail    string `env:"ADMIN_MAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	ActivationTokenTTL time.Duration `env:"ACTIVATION_TOKEN_TTL" envDefault:"72h"`

	ReservedNamesPath string `env:"RESERVED_USERNAMES_FILE"`

	// "keycloak" or "log"
	ActivationDispatcher string      `env:"ACTIVATION_DISPATCHER" envDefault:"log"`
	Keycloak             KeycloakEnv

	// "surreal" or "memory"
	MirrorBackend string     `env:"MIRROR_BACKEND" envDefault:"memory"`
	Surreal       SurrealEnv
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

/**
 * All variables used by the server are loaded here, so there is a single place to
 * see what is configurable and how it flows into the system.
 */
func loadEnv() (*KobocatEnv, error) {
	cfg := &KobocatEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.ActivationDispatcher == "keycloak" && cfg.Keycloak.ServerUrl == "" {
		return nil, fmt.Errorf("KEYCLOAK_SERVER_URL must be set when ACTIVATION_DISPATCHER=keycloak")
	}
	if cfg.MirrorBackend == "surreal" && cfg.Surreal.Url == "" {
		return nil, fmt.Errorf("SURREAL_URL must be set when MIRROR_BACKEND=surreal")
	}
	return cfg, nil
}

func (env *KobocatEnv) postgresDsn() string {
	parts, err := url.Parse(env.DatabaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initLogging(logFile *os.File) {
	// victoria logs option transform keys like msg and time into victoria log keys _msg and _time
	var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, logging.GetVictoriaLogsOptions(true))
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{slog.String("service_type", "kobocat")})
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	slog.SetDefault(slog.New(slogmulti.Fanout(jsonHandler, textHandler)))
	slog.Info("logging initialized", logging.Code(logging.SYSTEM), "log_file", logFile.Name())
}

func initDb(env *KobocatEnv) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch env.DbType {
	case "postgres":
		dialector = postgres.Open(env.postgresDsn())
	case "sqlite":
		dialector = sqlite.Open(env.DatabaseUri)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE '%v'", env.DbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		return nil, fmt.Errorf("error migrating db schema: %w", err)
	}

	return db, nil
}

func initMirror(ctx context.Context, env *KobocatEnv) (mirror.DocumentStore, error) {
	if env.MirrorBackend == "surreal" {
		return mirror.NewSurrealStore(ctx, mirror.SurrealConfig{
			Url:       env.Surreal.Url,
			Namespace: env.Surreal.Namespace,
			Database:  env.Surreal.Database,
			Username:  env.Surreal.Username,
			Password:  env.Surreal.Password,
		})
	}
	return mirror.NewMemoryStore(), nil
}

func initDispatcher(env *KobocatEnv, signer *registration.TokenSigner) registration.Dispatcher {
	if env.ActivationDispatcher == "keycloak" {
		return registration.NewKeycloakDispatcher(registration.KeycloakArgs{
			ServerUrl:     env.Keycloak.ServerUrl,
			Realm:         env.Keycloak.Realm,
			ClientId:      env.Keycloak.ClientId,
			RedirectUri:   env.PublicUrl,
			AdminUsername: env.Keycloak.AdminUsername,
			AdminPassword: env.Keycloak.AdminPassword,
			Lifespan:      int(env.ActivationTokenTTL.Seconds()),
		})
	}
	return registration.NewLogDispatcher(signer, env.PublicUrl)
}

// The reason we have a separate runApp function is because the defer calls don't
// run if we exit with log.Fatalf, so instead we return an err here and fail outside
func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	env, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := os.MkdirAll(env.LogDir, 0777); err != nil {
		return fmt.Errorf("error creating log dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(env.LogDir, "kobocat.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(env.LogDir, "audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening audit log file: %w", err)
	}
	defer auditLog.Close()

	initLogging(logFile)

	db, err := initDb(env)
	if err != nil {
		return err
	}

	store, err := initMirror(context.Background(), env)
	if err != nil {
		return fmt.Errorf("error initializing submission mirror: %w", err)
	}
	defer store.Close()

	var reserved profiles.ReservedNames
	if env.ReservedNamesPath != "" {
		reserved, err = profiles.LoadReservedNames(env.ReservedNamesPath)
		if err != nil {
			return fmt.Errorf("error loading reserved names: %w", err)
		}
	}

	identityProvider, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(auditLog),
		auth.BasicProviderArgs{
			Secret:        []byte(env.JwtSecret),
			TokenTTL:      env.AccessTokenTTL,
			AdminUsername: env.AdminUsername,
			AdminEmail:    env.AdminEmail,
			AdminPassword: env.AdminPassword,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating identity provider: %w", err)
	}

	signer := registration.NewTokenSigner([]byte(env.JwtSecret+"activation"), env.ActivationTokenTTL)

	kobocat := services.NewKobocatApi(db, identityProvider, services.Dependencies{
		Mirror:     mirror.NewSubmissionMirror(db, store),
		Dispatcher: initDispatcher(env, signer),
		Activator:  registration.NewActivator(db, signer),
		Reserved:   reserved,
	})

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   env.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", kobocat.Routes())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: r,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutdown signal received", logging.Code(logging.SYSTEM))
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("HTTP server Shutdown", "err", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("starting server", logging.Code(logging.SYSTEM), "port", *port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve returned error: %w", err)
	}

	<-idleConnsClosed
	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
