// newsroomd is the Newsroom daemon: it hosts the agent runtimes, the task
// dispatchers, the proactive monitor, the negotiation broker and the REST
// API over one shared store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/newsroom-ai/newsroom/internal/api"
	"github.com/newsroom-ai/newsroom/internal/budget"
	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/crypto"
	"github.com/newsroom-ai/newsroom/internal/dispatch"
	"github.com/newsroom-ai/newsroom/internal/mailbox"
	"github.com/newsroom-ai/newsroom/internal/models"
	"github.com/newsroom-ai/newsroom/internal/monitor"
	"github.com/newsroom-ai/newsroom/internal/negotiation"
	"github.com/newsroom-ai/newsroom/internal/pipeline"
	"github.com/newsroom-ai/newsroom/internal/reason"
	"github.com/newsroom-ai/newsroom/internal/runtime"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	initMode := flag.Bool("init", false, "initialize config, store and identity, then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("newsroomd %s\n", version)
		return
	}

	if *initMode {
		if err := runInit(*configPath); err != nil {
			log.Fatalf("Init failed: %v", err)
		}
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

// runInit writes a default configuration, creates the store schema and
// generates the age identity. Existing files are left alone.
func runInit(configPath string) error {
	if configPath == "" {
		configPath = "newsroom.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		log.Printf("Wrote %s", configPath)
	} else {
		log.Printf("Keeping existing %s", configPath)
	}

	st := store.NewStore(cfg.Store.Path)
	if err := st.Initialize(); err != nil {
		return err
	}
	defer st.Close()
	log.Printf("Store ready at %s", cfg.Store.Path)

	if _, err := os.Stat(cfg.Crypto.IdentityPath); os.IsNotExist(err) {
		identity, err := crypto.GenerateIdentity(cfg.Crypto.IdentityPath)
		if err != nil {
			return err
		}
		log.Printf("Generated identity at %s (public key %s)", cfg.Crypto.IdentityPath, identity.Recipient())
	} else {
		log.Printf("Keeping existing identity at %s", cfg.Crypto.IdentityPath)
	}

	return nil
}

func run(configPath string) error {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()

	st := store.NewStore(cfg.Store.Path)
	if err := st.Initialize(); err != nil {
		return err
	}
	defer st.Close()

	tasks := store.NewTaskStore(st)
	usage := store.NewUsageStore(st)
	content := store.NewContentStore(st)
	findings := store.NewFindingStore(st)
	predictions := store.NewPredictionStore(st)
	negotiations := store.NewNegotiationStore(st)

	governor := budget.NewGovernor(loader, usage)

	var identity age.Identity
	if loaded, err := crypto.LoadIdentity(cfg.Crypto.IdentityPath); err != nil {
		log.Printf("No identity loaded (%v); encrypted provider keys unavailable", err)
	} else {
		identity = loaded
	}
	router := models.NewRouter(loader, identity)

	transport, err := mailbox.NewFileTransport(cfg.Mailbox.Dir)
	if err != nil {
		return err
	}
	reasoner := reason.NewMailboxReasoner(transport,
		time.Duration(cfg.Mailbox.ResponseTimeoutSec)*time.Second)

	broker := negotiation.NewBroker(loader, negotiations, tasks)
	registry := runtime.NewHandlers(content, findings, predictions, tasks).Registry()

	hub := api.NewHub()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, agent := range cfg.Agents {
		rt := runtime.NewRuntime(agent, loader, tasks, governor, reasoner, broker, registry, router)
		rt.SetEvents(func(event string, task *types.Task) {
			hub.Broadcast(event, task)
		})
		d := dispatch.NewDispatcher(agent.Name, loader, tasks, rt)
		go d.Run(ctx)
	}

	sweeper := dispatch.NewSweeper(loader, tasks, governor)
	go sweeper.Run(ctx)

	mon := monitor.NewMonitor(loader, content, predictions, tasks, governor)
	go runMonitor(ctx, loader, mon)
	go runBrokerSweep(ctx, broker)
	go runReload(ctx, loader)

	publisher, err := pipeline.NewDirPublisher(cfg.Pipeline.OutputDir)
	if err != nil {
		return err
	}
	orchestrator := pipeline.NewOrchestrator(loader, tasks, nil, publisher)

	server := api.NewServer(loader, st, broker, orchestrator, hub, version)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(),
	}

	go func() {
		log.Printf("newsroomd %s listening on %s", version, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func runMonitor(ctx context.Context, source config.Source, mon *monitor.Monitor) {
	for {
		interval := time.Duration(source.Config().Monitor.ScanIntervalMin) * time.Minute
		if interval <= 0 {
			interval = 30 * time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if _, err := mon.Scan(); err != nil {
				log.Printf("Monitor scan failed: %v", err)
			}
		}
	}
}

func runBrokerSweep(ctx context.Context, broker *negotiation.Broker) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := broker.SweepTimeouts(); err != nil {
				log.Printf("Negotiation sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Timed out %d negotiations", n)
			}
		}
	}
}

func runReload(ctx context.Context, loader *config.Loader) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reloaded, err := loader.ReloadIfChanged()
			if err != nil {
				log.Printf("Config reload failed, keeping previous config: %v", err)
			} else if reloaded {
				log.Printf("Configuration reloaded")
			}
		}
	}
}
