package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/desk-sync/internal/config"
	"github.com/psds-microservice/desk-sync/internal/database"
	"github.com/psds-microservice/desk-sync/internal/engine"
	"github.com/psds-microservice/desk-sync/internal/geoip"
	"github.com/psds-microservice/desk-sync/internal/handler"
	"github.com/psds-microservice/desk-sync/internal/hub"
	"github.com/psds-microservice/desk-sync/internal/kafka"
	"github.com/psds-microservice/desk-sync/internal/model"
	"github.com/psds-microservice/desk-sync/internal/reconcile"
	"github.com/psds-microservice/desk-sync/internal/relay"
	"github.com/psds-microservice/desk-sync/internal/router"
	"github.com/psds-microservice/desk-sync/internal/snapshot"
	"github.com/psds-microservice/desk-sync/internal/store"
)

// API приложение: HTTP сервер + sync-движок (режим api).
type API struct {
	cfg     *config.Config
	httpSrv *http.Server

	desk     *reconcile.Desk
	engine   *engine.Engine
	ws       *hub.Hub
	store    *store.Client
	producer *kafka.Producer
}

// NewAPI собирает приложение для режима api. Каждая внешняя зависимость
// (relay, store, kafka, geoip) опциональна: незаданная конфигурация даёт
// выключенный клиент, а не ошибку старта.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	storeClient := store.NewClient(nil)
	if cfg.StoreEnabled() {
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := database.Open(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		storeClient = store.NewClient(db)
	}

	relayClient := relay.NewClient(cfg.RelayBotToken, cfg.RelayGroupID)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket)
	geoClient := geoip.NewClient(cfg.GeoIPURL)
	ws := hub.NewHub()

	viewer := model.SenderAdmin
	if cfg.Role == "customer" {
		viewer = model.SenderCustomer
	}

	var defaultPost *model.TicketPost
	if viewer == model.SenderCustomer && cfg.DefaultPost.Content != "" {
		defaultPost = &model.TicketPost{
			AuthorName: cfg.DefaultPost.AuthorName,
			AuthorRole: "admin",
			Subject:    cfg.DefaultPost.Subject,
			Content:    cfg.DefaultPost.Content,
			Image:      cfg.DefaultPost.Image,
		}
	}

	desk := reconcile.NewDesk(reconcile.Deps{
		Relay:        relayClient,
		Store:        storeClient,
		Producer:     producer,
		Hub:          ws,
		Viewer:       viewer,
		SnapshotPath: cfg.SnapshotPath,
		DefaultPost:  defaultPost,
	})

	if cfg.SnapshotPath != "" {
		snap, err := snapshot.Load(cfg.SnapshotPath)
		if err != nil {
			log.Printf("snapshot: load %s: %v", cfg.SnapshotPath, err)
		} else if snap != nil {
			desk.LoadSnapshot(snap)
		}
	}

	eng := engine.New(relayClient, desk, geoClient, viewer)

	ticketHandler := handler.NewTicketHandler(desk)
	sessionHandler := handler.NewSessionHandler(desk, geoClient)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(ticketHandler, sessionHandler, ws),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		httpSrv:  httpSrv,
		desk:     desk,
		engine:   eng,
		ws:       ws,
		store:    storeClient,
		producer: producer,
	}, nil
}

// bootstrap подтягивает состояние из store в локальные коллекции.
// Store побеждает по совпадающим id; локальные тикеты без пары выживают.
func (a *API) bootstrap(ctx context.Context) {
	if !a.store.Enabled() {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tickets, err := a.store.ListTickets(loadCtx)
	if err != nil {
		log.Printf("bootstrap: list tickets: %v", err)
		return
	}
	a.desk.MergeCloud(tickets)
	for _, t := range tickets {
		msgs, err := a.store.ListMessages(loadCtx, t.ID)
		if err != nil {
			log.Printf("bootstrap: list messages %s: %v", t.ID, err)
			continue
		}
		a.desk.MergeMessages(msgs)
	}
	log.Printf("bootstrap: merged %d tickets from store", len(tickets))
}

// Run запускает HTTP сервер, worker эффектов, hub и sync-цикл; блокируется до
// отмены ctx, затем гасит всё и пишет финальный снапшот.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  API v1:        %s/api/v1/", base)
	log.Printf("  WebSocket:     %s/ws", base)
	log.Printf("role: %s, relay: %v, store: %v", a.cfg.Role, a.cfg.RelayBotToken != "", a.store.Enabled())

	a.bootstrap(ctx)

	done := make(chan struct{})
	go a.ws.Run(done)
	go a.desk.RunWorker(ctx)
	go a.engine.Run(ctx)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.desk.SaveSnapshot(); err != nil {
		log.Printf("snapshot: final save: %v", err)
	}
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka: close: %v", err)
	}
	return nil
}
