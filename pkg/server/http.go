package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Depado/ginprom"
	"github.com/finbot/app/api/routes"
	"github.com/finbot/pkg/bus"
	"github.com/finbot/pkg/config"
	"github.com/finbot/pkg/credstore"
	"github.com/finbot/pkg/database"
	"github.com/finbot/pkg/domains/auth"
	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/domains/provider/telegram"
	"github.com/finbot/pkg/domains/provider/whatsapp"
	"github.com/finbot/pkg/domains/session"
	"github.com/finbot/pkg/entities"
	"github.com/finbot/pkg/middleware"
	"github.com/finbot/pkg/msgcontext"
	"github.com/finbot/pkg/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func LaunchHttpServer(cfg *config.Config, log zerolog.Logger) {
	log.Info().Msg("starting HTTP server")
	gin.SetMode(gin.ReleaseMode)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := utils.RegisterCustomValidations(v); err != nil {
			log.Fatal().Err(err).Msg("failed to register binding validations")
		}
	}

	app := gin.New()
	app.Use(gin.LoggerWithFormatter(func(log gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] - %s \"%s %s %s %d %s\"\n",
			log.TimeStamp.Format("2006-01-02 15:04:05"),
			log.ClientIP,
			log.Method,
			log.Path,
			log.Request.Proto,
			log.StatusCode,
			log.Latency,
		)
	}))
	app.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	app.Use(gin.Recovery())
	app.Use(otelgin.Middleware(cfg.App.Name))
	app.Use(middleware.ClaimIp())
	app.Use(cors.New(cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Origin", "Accept"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	p := ginprom.New(
		ginprom.Engine(app),
		ginprom.Subsystem("gin"),
		ginprom.Path("/metrics"),
		ginprom.Ignore("/swagger/*any"),
	)
	app.Use(p.Instrument())

	db := database.DBClient()
	api := app.Group("/api/v1")

	// Auth Routes
	auth_repo := auth.NewRepo(db)
	auth_service := auth.NewService(auth_repo, log)
	routes.AuthRoutes(api.Group("/auth"), auth_service)

	// Session manager wiring
	events := bus.New(256)
	router := msgcontext.NewRouter(cfg.Context.TTL.Std(), cfg.Context.SweepInterval.Std())
	creds := credstore.New(db, cfg.Sessions.StoreDir, cfg.Sessions.Credentials.DebounceWindow.Std(), log)
	if err := creds.EnsureStoreDir(); err != nil {
		log.Fatal().Err(err).Msg("failed to create device store directory")
	}

	factory := providerFactory(cfg)
	session_repo := session.NewRepo(db)
	registry := session.NewRegistry(session_repo, creds, router, events, cfg.Sessions, factory, log)
	manager := session.NewManager(registry, cfg.Sessions, log)
	routes.SessionRoutes(api.Group("/sessions"), manager)

	go logBusEvents(events, log)

	// Resume sessions the operator left active; throttled to avoid a
	// connection storm right after boot.
	go func() {
		if err := manager.RestoreActiveSessions(context.Background()); err != nil {
			log.Error().Err(err).Msg("session restore failed")
		}
	}()

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.App.Host, cfg.App.Port),
		Handler: app,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	// Sessions are disconnected best-effort without touching isActive, so
	// the next boot resumes them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	router.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

func providerFactory(cfg *config.Config) session.ProviderFactory {
	return func(platform entities.Platform, log zerolog.Logger) provider.Provider {
		switch platform {
		case entities.PlatformTelegram:
			return telegram.New(log, telegram.Options{
				ConflictThreshold: cfg.Telegram.ConflictThreshold,
				SendRetries:       cfg.Telegram.SendRetries,
				RetryBaseDelay:    cfg.Telegram.RetryBaseDelay.Std(),
				PollTimeout:       cfg.Telegram.PollTimeout,
				PollRetryDelay:    cfg.Telegram.PollRetryDelay.Std(),
			})
		default:
			return whatsapp.New(log)
		}
	}
}

// logBusEvents drains the application event stream. Downstream consumers
// (reply dispatch, NLP pipeline) subscribe the same way.
func logBusEvents(events *bus.Bus, log zerolog.Logger) {
	for evt := range events.Subscribe() {
		switch evt.Type {
		case bus.EventMessageReceived:
			log.Debug().Str("session_id", evt.SessionID).Str("platform", string(evt.Platform)).Msg("inbound message")
		case bus.EventAdvisory:
			log.Warn().Str("session_id", evt.SessionID).Str("kind", evt.Advisory).Str("detail", evt.Detail).Msg("session advisory")
		default:
			log.Info().Str("session_id", evt.SessionID).Str("event", string(evt.Type)).Str("reason", evt.Reason).Msg("session event")
		}
	}
}
