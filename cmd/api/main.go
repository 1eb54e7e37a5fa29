package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"veriflow.io/internal/ai"
	"veriflow.io/internal/compliance"
	"veriflow.io/internal/crm"
	"veriflow.io/internal/httpapi"
	"veriflow.io/internal/obs"
	"veriflow.io/internal/store/pg"
	"veriflow.io/internal/stream"
	"veriflow.io/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo("veriflow-api", version, commit)

	addr := os.Getenv("VERIFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var (
		tenants    tenant.Service
		comp       compliance.Service
		contacts   crm.Service
		readyProbe httpapi.ReadyProbe
		store      *pg.Store
	)
	if dsn := os.Getenv("VERIFLOW_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		tenants, comp, contacts = store, store, store
		readyProbe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// In-memory services for local development without Postgres.
		log.Printf("VERIFLOW_PG_DSN not set, using in-memory state")
		tenants = tenant.NewInMemory()
		comp = compliance.NewInMemory()
		contacts = crm.NewInMemory()
	}

	var analyzer *ai.Analyzer
	if client, err := ai.NewOpenAIClientFromEnv(); err != nil {
		log.Printf("insights running in fallback mode: %v", err)
		analyzer = ai.NewAnalyzer(nil)
	} else {
		analyzer = ai.NewAnalyzer(client)
	}

	api := httpapi.New(readyProbe, version, tenants, comp, contacts, analyzer, stream.New())
	if ops := os.Getenv("VERIFLOW_OPERATOR_EMAILS"); ops != "" {
		api.SetOperators(strings.Split(ops, ",")...)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting veriflow-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
