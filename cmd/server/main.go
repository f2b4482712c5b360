// Command server runs the Whalix WhatsApp auto-reply backend: it wires
// the configuration, database, WhatsApp transport, session registry,
// ingestion pipeline and HTTP API together, then serves until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/darckarchie/whalix-server/internal/config"
	"github.com/darckarchie/whalix-server/internal/dispatch"
	"github.com/darckarchie/whalix-server/internal/domain"
	httpapi "github.com/darckarchie/whalix-server/internal/http"
	"github.com/darckarchie/whalix-server/internal/ingest"
	"github.com/darckarchie/whalix-server/internal/observability"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/reply"
	"github.com/darckarchie/whalix-server/internal/session"
	"github.com/darckarchie/whalix-server/internal/sysutil"
	"github.com/darckarchie/whalix-server/internal/transport"
	"github.com/darckarchie/whalix-server/internal/transport/memory"
	"github.com/darckarchie/whalix-server/internal/transport/wmeow"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// sessionStoreShim adapts the repository free functions to the
// session.Store interface without introducing package-level state.
type sessionStoreShim struct{}

func (sessionStoreShim) GetSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error) {
	return repo.GetSession(ctx, db, tenantID)
}

func (sessionStoreShim) EnsureSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error) {
	return repo.EnsureSession(ctx, db, tenantID)
}

func (sessionStoreShim) UpdateSessionState(ctx context.Context, db *gorm.DB, tenantID string, f repo.SessionFields) error {
	return repo.UpdateSessionState(ctx, db, tenantID, f)
}

func (sessionStoreShim) AppendEvent(ctx context.Context, db *gorm.DB, tenantID string, typ domain.EventType, payload map[string]any) error {
	return repo.AppendEvent(ctx, db, tenantID, typ, payload)
}

// ingestStoreShim adapts the repository free functions to the
// ingest.Store interface.
type ingestStoreShim struct{}

func (ingestStoreShim) GetOrCreateConversation(ctx context.Context, db *gorm.DB, tenantID, customerPhone, customerName string) (*domain.Conversation, error) {
	return repo.GetOrCreateConversation(ctx, db, tenantID, customerPhone, customerName)
}

func (ingestStoreShim) CreateInbound(ctx context.Context, db *gorm.DB, in repo.InboundMessage) (*domain.Message, error) {
	return repo.CreateInbound(ctx, db, in)
}

func (ingestStoreShim) BumpMessageCount(ctx context.Context, db *gorm.DB, tenantID string) error {
	return repo.BumpMessageCount(ctx, db, tenantID)
}

func (ingestStoreShim) GetSession(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Session, error) {
	return repo.GetSession(ctx, db, tenantID)
}

func (ingestStoreShim) ListKBItems(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.KBItem, error) {
	return repo.ListKBItems(ctx, db, tenantID)
}

func (ingestStoreShim) AppendConversationEvent(ctx context.Context, db *gorm.DB, tenantID, conversationID string, typ domain.EventType, payload map[string]any) error {
	return repo.AppendConversationEvent(ctx, db, tenantID, conversationID, typ, payload)
}

// dispatchStoreShim adapts the repository free functions to the
// dispatch.Store interface.
type dispatchStoreShim struct{}

func (dispatchStoreShim) CreateOutbound(ctx context.Context, db *gorm.DB, tenantID, conversationID, fromPhone, toPhone, body string, ai bool, confidence float64) (*domain.Message, error) {
	return repo.CreateOutbound(ctx, db, tenantID, conversationID, fromPhone, toPhone, body, ai, confidence)
}

func (dispatchStoreShim) MarkReplied(ctx context.Context, db *gorm.DB, messageID string) error {
	return repo.MarkReplied(ctx, db, messageID)
}

func (dispatchStoreShim) AppendConversationEvent(ctx context.Context, db *gorm.DB, tenantID, conversationID string, typ domain.EventType, payload map[string]any) error {
	return repo.AppendConversationEvent(ctx, db, tenantID, conversationID, typ, payload)
}

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("gorm tracing plugin failed")
		}
	}

	tr, err := openTransport(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.TransportDriver).Msg("transport init failed")
	}

	dispatcher := dispatch.NewDispatcher(db, dispatchStoreShim{}, cfg.Reply.DelayMin, cfg.Reply.DelayMax, log.Logger)
	pipeline := ingest.NewPipeline(db, ingestStoreShim{}, reply.NewGenerator(cfg.Reply.Threshold), dispatcher, cfg.Reply.Cooldown, log.Logger)
	registry := session.NewRegistry(db, sessionStoreShim{}, tr, pipeline, cfg.Pairing, log.Logger)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, registry, dispatcher, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	registry.Shutdown(shutdownCtx)
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// openDB opens the configured database backend.
func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == "postgres" {
		return repo.OpenPostgres(cfg.DBDSN)
	}
	return repo.OpenSQLite(cfg.DBPath)
}

// openTransport builds the WhatsApp transport. The whatsmeow backend
// shares the application's database handle; its device resolver reads
// the persisted JID so restarts resume the same pairing.
func openTransport(ctx context.Context, cfg config.Config, db *gorm.DB) (transport.Transport, error) {
	if cfg.TransportDriver == "memory" {
		return memory.New(), nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	dialect := "sqlite3"
	if cfg.DBDriver == "postgres" {
		dialect = "postgres"
	}
	resolver := func(tenantID string) string {
		s, err := repo.GetSession(ctx, db, tenantID)
		if err != nil {
			return ""
		}
		return s.WaDeviceID
	}
	return wmeow.New(ctx, sqlDB, dialect, resolver)
}
