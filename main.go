package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"

	"pinpoint.live/data"
	"pinpoint.live/server"
	"pinpoint.live/spatial"
)

func main() {
	configPath := flag.String("config", "", "config file (default $XDG_CONFIG_HOME/pinpoint/config.yaml)")
	addr := flag.String("addr", "", "listen address")
	backend := flag.String("store", "", "store backend: memory, sqlite, dynamodb")
	storePath := flag.String("db", "", "store file (memory snapshot or sqlite database)")
	table := flag.String("table", "", "dynamodb table")
	publicURL := flag.String("url", "", "public dashboard URL shown as a QR code")
	qr := flag.Bool("qr", false, "print a QR code of the dashboard URL")
	tick := flag.Duration("tick", 0, "render interval")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	applyFlags(cfg, *addr, *backend, *storePath, *table, *publicURL, *qr, *tick)
	cfg.ApplyEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := data.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("[store] close: %v", err)
		}
	}()

	external := spatial.External
	var routes *spatial.Routes
	if router := cfg.Router(external); router != nil {
		routes = spatial.NewRoutes(router, cfg.Routing.TTL)
		routes.SetTimeout(cfg.Routing.Timeout)
		log.Printf("[route] using %T", router)
	} else {
		log.Printf("[route] routing disabled")
	}

	presence := data.NewPresenceStore(store, cfg.Loop.OnlineWindow)
	admin := data.NewCoordinator(store, routes, cfg.DefaultTarget())

	srv := server.New(presence, admin, server.Options{
		TickInterval: cfg.Loop.TickInterval,
		SessionTTL:   cfg.Loop.SessionTTL,
		Routes:       routes,
		External:     external,
	})
	go srv.Run(ctx)

	mux := http.NewServeMux()
	srv.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.WithCors(mux),
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	url := cfg.PublicURL
	if url == "" {
		url = "http://localhost" + cfg.Listen
	}
	log.Printf("Pinpoint listening on %s (%s)", cfg.Listen, url)
	if cfg.ShowQR {
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
	}

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[http] %v", err)
	}
	log.Printf("%s", external.Stats().Summary())
}

// applyFlags overrides config values with flags that were set
func applyFlags(cfg *Config, addr, backend, storePath, table, publicURL string, qr bool, tick time.Duration) {
	if addr != "" {
		cfg.Listen = addr
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if table != "" {
		cfg.Store.Table = table
	}
	if publicURL != "" {
		cfg.PublicURL = publicURL
	}
	if qr {
		cfg.ShowQR = true
	}
	if tick > 0 {
		cfg.Loop.TickInterval = tick
	}
}
