package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"crmconsole/internal/api"
	"crmconsole/internal/collection"
	"crmconsole/internal/config"
	"crmconsole/internal/remote"
	"crmconsole/internal/schema"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func runServe(ctx context.Context, cfg config.Config) error {
	b, err := loadBundle(cfg)
	if err != nil {
		return err
	}
	if err := schema.Err(b.issues); err != nil {
		for _, it := range b.issues {
			logger.Error("schema issue", zap.String("screen", it.Screen), zap.String("field", it.Field),
				zap.String("code", it.Code), zap.String("message", it.Message))
		}
		return err
	}
	logger.Info("schema loaded", zap.Int("screens", len(b.screens)), zap.Int("catalogs", len(b.catalogs)))

	if cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewEngine(logger)

	backendURL := cfg.BackendURL
	if cfg.DevBackend {
		store, err := openStore(ctx, cfg, b.screens)
		if err != nil {
			return err
		}
		defer store.Close()
		collection.NewServer(store,
			collection.WithLogger(logger),
			collection.WithScreens(b.screens),
		).Register(r.Group("/data"))
		if backendURL == "" {
			backendURL = "http://127.0.0.1:" + cfg.Port + "/data"
		}
		logger.Info("dev collections mounted", zap.String("store", cfg.DevStore), zap.String("url", backendURL))
	}

	client := remote.New(backendURL,
		remote.WithTimeout(cfg.HTTPTimeout()),
		remote.WithLogger(logger),
	)
	con := api.NewConsole(b.screens, client,
		api.WithLogger(logger),
		api.WithCatalogs(b.catalogs),
		api.WithLocale(cfg.Locale),
		api.WithPageSize(cfg.PageSize),
		api.WithDebounce(cfg.Debounce()),
		api.WithSessionTTL(cfg.SessionTTL()),
		api.WithTimeout(cfg.HTTPTimeout()),
	)
	defer con.Close()
	con.Register(r.Group("/api"))

	srv := &http.Server{Addr: cfg.Addr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("console listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore открывает хранилище dev-коллекций и заливает сиды.
func openStore(ctx context.Context, cfg config.Config, screens map[string]*schema.Screen) (collection.Store, error) {
	var store collection.Store
	switch cfg.DevStore {
	case "postgres":
		db, err := collection.Open(cfg.DBURL)
		if err != nil {
			return nil, err
		}
		pg, err := collection.NewPostgresStore(ctx, db, collectionNames(screens), logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		store = pg
	default:
		store = collection.NewMemoryStore()
	}

	if cfg.SeedDir != "" {
		n, err := collection.Seed(ctx, store, cfg.SeedDir)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("dev collections seeded", zap.Int("records", n))
	}
	return store, nil
}

// collectionNames: коллекции из list endpoint экранов и endpoint обогащений и поиска.
func collectionNames(screens map[string]*schema.Screen) []string {
	seen := map[string]struct{}{}
	add := func(endpoint string) {
		if name := collection.CollectionOf(endpoint); name != "" {
			seen[name] = struct{}{}
		}
	}
	for _, s := range screens {
		add(s.Endpoints.List)
		for _, f := range s.Fields {
			if f.Enrich != nil {
				add(f.Enrich.Endpoint)
			}
			if f.Lookup != nil {
				add(f.Lookup.Endpoint)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
