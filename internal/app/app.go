package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"boutique/internal/catalog"
	"boutique/internal/config"
	"boutique/internal/dedup"
	"boutique/internal/easytransac"
	"boutique/internal/httpapi"
	"boutique/internal/messaging"
	"boutique/internal/metrics"
	"boutique/internal/order"
	"boutique/internal/storage"
	"boutique/internal/websocket"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	orderSvc  *order.Service
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	deduper   *dedup.RedisDeduper
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	wsHub := websocket.NewHub()
	orderSvc := order.NewService(store.Pool(), wsHub, logger)
	catalogSvc := catalog.NewService(store.Pool())
	gateway := easytransac.NewClient(cfg.GatewayEndpoint, cfg.GatewayAPIKey, cfg.GatewayAPISecret)
	reg := metrics.NewRegistry()

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.OrdersExchange)
	if err != nil {
		store.Close()
		return nil, err
	}
	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatch, logger)

	var deduper *dedup.RedisDeduper
	var apiDedup httpapi.Deduper
	if cfg.RedisAddr != "" {
		deduper = dedup.NewRedisDeduper(cfg.RedisAddr)
		apiDedup = deduper
	}

	api := httpapi.NewServer(httpapi.Options{
		Orders:           orderSvc,
		Catalog:          catalogSvc,
		Gateway:          gateway,
		Dedup:            apiDedup,
		Health:           store,
		Metrics:          reg,
		PublicBaseURL:    cfg.PublicBaseURL,
		WebhookSecret:    cfg.WebhookSecret,
		RequireSignature: cfg.RequireSignature,
		Logger:           logger,
	})

	wsHandler := websocket.NewHandler(wsHub, orderSvc, logger)
	api.HandleFunc("GET /api/orders/{orderID}/ws", wsHandler.ServeWS)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		orderSvc:  orderSvc,
		wsHub:     wsHub,
		publisher: publisher,
		outbox:    outbox,
		deduper:   deduper,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	a.outbox.Start(ctx)
	go a.wsHub.Run(ctx)

	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	if a.deduper != nil {
		_ = a.deduper.Close()
	}
	_ = a.publisher.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
