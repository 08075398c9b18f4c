package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alertsapp "sensorfleet-cloud/internal/alerts/application"
	alertevents "sensorfleet-cloud/internal/alerts/application/events"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "sensorfleet-cloud/internal/alerts/interfaces/http"
	apihttp "sensorfleet-cloud/internal/api/http"
	"sensorfleet-cloud/internal/audit"
	"sensorfleet-cloud/internal/auth"
	commandsapp "sensorfleet-cloud/internal/commands/application"
	commandsevents "sensorfleet-cloud/internal/commands/application/events"
	commandsrepo "sensorfleet-cloud/internal/commands/infrastructure/postgres"
	commandsinterfaces "sensorfleet-cloud/internal/commands/interfaces"
	commandshttp "sensorfleet-cloud/internal/commands/interfaces/http"
	"sensorfleet-cloud/internal/devicegw"
	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/eventing/eventbus"
	eventingrepo "sensorfleet-cloud/internal/eventing/infrastructure/postgres"
	masterdataapp "sensorfleet-cloud/internal/masterdata/application"
	masterdataevents "sensorfleet-cloud/internal/masterdata/application/events"
	masterdatarepo "sensorfleet-cloud/internal/masterdata/infrastructure/postgres"
	masterdatahttp "sensorfleet-cloud/internal/masterdata/interfaces/http"
	"sensorfleet-cloud/internal/observability/metrics"
	"sensorfleet-cloud/internal/realtime"
	ws "sensorfleet-cloud/internal/realtime/interfaces/ws"
	rulestelemetry "sensorfleet-cloud/internal/rules/adapters/telemetry"
	rulesapp "sensorfleet-cloud/internal/rules/application"
	rulesrepo "sensorfleet-cloud/internal/rules/infrastructure/postgres"
	rulesinterfaces "sensorfleet-cloud/internal/rules/interfaces"
	ruleshttp "sensorfleet-cloud/internal/rules/interfaces/http"
	telemetryapp "sensorfleet-cloud/internal/telemetry/application"
	telemetryevents "sensorfleet-cloud/internal/telemetry/application/events"
	telemetrypostgres "sensorfleet-cloud/internal/telemetry/infrastructure/postgres"
	telemetryredis "sensorfleet-cloud/internal/telemetry/infrastructure/redis"
	telemetryhttp "sensorfleet-cloud/internal/telemetry/interfaces/http"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("db ping failed")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis ping failed")
	}
	cancelPing()

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	locationRepo := masterdatarepo.NewLocationRepository(db)
	readingRepo := telemetrypostgres.NewReadingRepository(db)
	ruleRepo := rulesrepo.NewRuleRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	commandRepo := commandsrepo.NewCommandRepository(db)

	latestCache, err := telemetryredis.NewLatestCache(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("latest cache error")
	}

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(alertevents.AlertRaised{})
	registry.Register(alertevents.AlertAcknowledged{})
	registry.Register(alertevents.AlertResolved{})
	registry.Register(alertevents.AlertEscalated{})
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandCompleted{})
	registry.Register(masterdataevents.DeviceConfigChanged{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	bus := eventing.NewPublisher(outboxStore, baseBus)

	catalog, err := masterdataapp.NewEntityCatalog(deviceRepo, locationRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("entity catalog error")
	}
	deviceService, err := masterdataapp.NewDeviceService(deviceRepo, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("device service error")
	}
	locationService, err := masterdataapp.NewLocationService(locationRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("location service error")
	}
	masterdataHandler, err := masterdatahttp.NewHandler(deviceService, locationService, auditRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("masterdata handler error")
	}

	// Readings bypass the outbox: the hot path publishes straight onto
	// the bus and loses nothing worth replaying.
	ingestService, err := telemetryapp.NewIngestService(readingRepo, latestCache, baseBus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest service error")
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest handler error")
	}

	alertService, err := alertsapp.NewService(alertRepo, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("alert service error")
	}
	alertDispatcher, err := alertsapp.NewDispatcher(alertRepo, bus, logger,
		alertsapp.WithLocationResolver(catalog))
	if err != nil {
		logger.Fatal().Err(err).Msg("alert dispatcher error")
	}
	escalationCfg, err := alertsapp.LoadEscalationConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("escalation config error")
	}
	escalator, err := alertsapp.NewEscalator(alertRepo, bus, escalationCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("escalator error")
	}
	escalationScheduler := alertsapp.NewEscalationScheduler(escalator, escalationCfg.Interval(), logger)
	alertHandler, err := alerthttp.NewHandler(alertService, auditRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("alert handler error")
	}

	evaluationCfg, err := rulesapp.LoadEvaluationConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluation config error")
	}
	historyReader, err := rulestelemetry.NewHistoryReader(readingRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("history reader error")
	}
	ruleEngine, err := rulesapp.NewService(ruleRepo, historyReader, alertDispatcher, logger,
		rulesapp.WithTrackerShards(evaluationCfg.TrackerShards),
		rulesapp.WithHistoryDepth(evaluationCfg.HistoryDepth),
		rulesapp.WithDispatchTimeout(evaluationCfg.DispatchTimeout()),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("rule engine error")
	}
	authoringService, err := rulesapp.NewAuthoringService(ruleRepo, ruleEngine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("rule authoring error")
	}
	rulesHandler, err := ruleshttp.NewHandler(authoringService, auditRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("rules handler error")
	}
	readingConsumer, err := rulesinterfaces.NewReadingReceivedConsumer(ruleEngine)
	if err != nil {
		logger.Fatal().Err(err).Msg("reading consumer error")
	}
	// Hot path, at-most-once is fine; replay bookkeeping would only slow
	// it down.
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[telemetryevents.ReadingReceived](), "rules.engine", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.ReadingReceived)
		if !ok {
			return nil
		}
		return readingConsumer.Consume(ctx, evt)
	}, nil)

	commandService, err := commandsapp.NewService(commandRepo, bus, catalog, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("command service error")
	}
	gatewayClient, err := devicegw.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("device gateway client error")
	}
	commandConsumer, err := commandsinterfaces.NewCommandIssuedConsumer(commandService, gatewayClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("command consumer error")
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandIssued](), "commands.gateway", commandConsumer.HandleCommandIssued, processedStore)
	commandHandler, err := commandshttp.NewHandler(commandService, auditRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("command handler error")
	}
	resultHandler, err := commandshttp.NewResultHandler(commandService)
	if err != nil {
		logger.Fatal().Err(err).Msg("result handler error")
	}

	connectionRegistry, err := realtime.NewRegistry(catalog, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connection registry error")
	}
	eventRouter, err := realtime.NewRouter(connectionRegistry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("event router error")
	}
	broadcaster, err := realtime.NewBroadcaster(eventRouter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("broadcaster error")
	}
	realtime.WireBroadcaster(baseBus, broadcaster, processedStore)

	deliveryCfg, err := realtime.LoadDeliveryConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("delivery config error")
	}
	wsGateway, err := ws.NewGateway(connectionRegistry, alertService, commandService, latestCache, []byte(cfg.JWTSecret), logger,
		ws.WithQueueSize(deliveryCfg.SessionQueueSize),
		ws.WithAuditLogger(auditRepo),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("ws gateway error")
	}

	statsHandler := apihttp.NewStatsHandler(alertService)

	// The ws gateway and the signed gateway callbacks authenticate
	// themselves; everything else under /api goes through JWT + RBAC.
	policy := auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics", "/ws", "/api/v1/telemetry/readings", "/api/v1/gateway/command-results"},
		nil,
	)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsGateway)
	mux.Handle("/api/v1/telemetry/readings", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/gateway/command-results", ingestAuth.Wrap(resultHandler))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/rules", rulesHandler)
	mux.Handle("/api/v1/rules/", rulesHandler)
	mux.Handle("/api/v1/devices", masterdataHandler)
	mux.Handle("/api/v1/devices/", masterdataHandler)
	mux.Handle("/api/v1/locations", masterdataHandler)
	mux.Handle("/api/v1/locations/", masterdataHandler)
	mux.Handle("/api/v1/commands", commandHandler)
	mux.Handle("/api/v1/commands/", commandHandler)
	mux.Handle("/api/v1/stats", statsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go escalationScheduler.Start(ctx)

	go func() {
		ticker := time.NewTicker(cfg.OutboxInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dispatcher.Dispatch(ctx, cfg.OutboxBatch); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("outbox dispatch failed")
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.CommandScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.CommandAckTimeout)
				count, err := commandService.MarkTimeouts(ctx, cutoff)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("command timeout scan failed")
				}
				if count > 0 {
					logger.Info().Int("timed_out", count).Msg("commands timed out")
				}
			}
		}
	}()

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger),
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	connectionRegistry.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}

type config struct {
	HTTPAddr            string
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	JWTSecret           string
	IngestSecret        string
	IngestSkewSeconds   int
	GatewayBaseURL      string
	GatewayToken        string
	OutboxInterval      time.Duration
	OutboxBatch         int
	CommandAckTimeout   time.Duration
	CommandScanInterval time.Duration
	LogLevel            string
}

func loadConfig() config {
	cfg := config{
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		RedisAddr:           getenvDefault("REDIS_ADDR", ""),
		RedisPassword:       getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:             getenvIntDefault("REDIS_DB", 0),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:        getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:   getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		GatewayBaseURL:      getenvDefault("GATEWAY_BASE_URL", ""),
		GatewayToken:        getenvDefault("GATEWAY_TOKEN", ""),
		OutboxInterval:      getenvDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatch:         getenvIntDefault("OUTBOX_BATCH", 100),
		CommandAckTimeout:   getenvDuration("COMMAND_ACK_TIMEOUT", 2*time.Minute),
		CommandScanInterval: getenvDuration("COMMAND_SCAN_INTERVAL", 30*time.Second),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
	}
	if cfg.DatabaseURL == "" {
		fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.RedisAddr == "" {
		fatal("REDIS_ADDR is required")
	}
	if cfg.JWTSecret == "" {
		fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.IngestSecret == "" {
		fatal("INGEST_HMAC_SECRET is required")
	}
	if cfg.GatewayBaseURL == "" {
		fatal("GATEWAY_BASE_URL is required")
	}
	return cfg
}

func fatal(msg string) {
	logger := zerolog.New(os.Stderr)
	logger.Fatal().Msg(msg)
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "sensorfleet-cloud").
		Logger()
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working behind the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
