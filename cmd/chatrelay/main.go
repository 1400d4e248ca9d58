package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/banner"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/pagination"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/reactions"
	"chatrelay/pkg/rooms"
	"chatrelay/pkg/shutdown"
	"chatrelay/pkg/store"
	"chatrelay/pkg/threads"
	"chatrelay/pkg/validation"
	"chatrelay/pkg/ws"
)

// set via ldflags during release builds
var version = "dev"

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response_encode_failed", "error", err)
	}
}

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	// flags win over config/env
	addr := cfg.Addr()
	if setFlags["addr"] && addrVal != "" {
		addr = addrVal
	}
	dbPath := cfg.Storage.DBPath
	if setFlags["db"] || dbPath == "" {
		dbPath = dbVal
	}

	maxFrame, err := cfg.MaxMessageBytes()
	if err != nil {
		logger.Error("startup_fatal", "error", err)
		log.Fatal(err)
	}
	validation.SetRules(validation.Rules{MaxContentBytes: int(maxFrame)})

	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("startup_fatal", "error", err)
		log.Fatal(err)
	}

	registry := presence.NewRegistry()
	roomMgr := rooms.NewManager()

	dispatcher := ws.NewDispatcher(context.Background(), ws.Deps{
		Verifier:       auth.NewHMACVerifier(cfg.Auth.SigningKeys),
		Access:         store.Access{S: st},
		Presence:       registry,
		Rooms:          roomMgr,
		Pages:          pagination.NewEngine(st),
		Reactions:      reactions.NewAggregator(st),
		Threads:        threads.NewManager(st),
		Store:          st,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxFrameBytes:  maxFrame,
	})
	hub := dispatcher.Hub()
	go hub.Run(dispatcher)

	awayAfter, err := cfg.AwayAfter()
	if err != nil {
		logger.Error("startup_fatal", "error", err)
		log.Fatal(err)
	}
	stopSweeper, err := presence.StartSweeper(context.Background(), registry, presence.SweeperConfig{
		Enabled:   cfg.Presence.SweepEnabled,
		Cron:      cfg.Presence.SweepCron,
		AwayAfter: awayAfter,
	}, func(e models.PresenceEntry) {
		hub.BroadcastAll(ws.EvtPresenceUpdate, e)
	})
	if err != nil {
		logger.Error("startup_fatal", "error", err)
		log.Fatal(err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", dispatcher.ServeWS).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": version})
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/presence", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.List())
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	banner.Print(addr, dbPath, version)
	go func() {
		var err error
		if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server_failed", "error", err)
			log.Fatal(err)
		}
	}()
	logger.Info("server_started", "addr", addr, "db", dbPath, "version", version)

	shutdown.Watch(func(ctx context.Context) {
		stopSweeper()
		_ = srv.Shutdown(ctx)
		_ = hub.Shutdown(ctx)
		registry.Clear()
		if err := st.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	})
}
