package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/api"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/clock"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/integration"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/metrics"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/server"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
	"github.com/lorawan-server/lorawan-virtual-lab/pkg/crypto"
)

func main() {
	// Command line flags
	var (
		configFile   string
		validate     bool
		showConfig   bool
		hashPassword string
	)
	flag.StringVar(&configFile, "config", "config/virtual-lab.yml", "Configuration file path")
	flag.BoolVar(&validate, "validate", false, "Validate the configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print the configuration summary")
	flag.StringVar(&hashPassword, "hash-password", "", "Print the bcrypt hash of a password for jwt.password_hash and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if hashPassword != "" {
		if err := printPasswordHash(os.Stdout, hashPassword); err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if validate {
		fmt.Println("Configuration is valid")
		return
	}
	if showConfig {
		cfg.PrintConfigSummary()
	}

	setupLogging(cfg.Log)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WaitGroup for services
	var wg sync.WaitGroup

	codec, err := integration.NewCodec(cfg.NATS.Encoding)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid NATS encoding")
	}

	// Presenters receive every lab event on the loop goroutine
	hub := api.NewWSHub()
	presenters := simulation.Presenters{hub}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		prometheus.MustRegister(collector)
		presenters = append(presenters, collector)
	}

	// Optional: NATS and MQTT integrations
	var (
		nc    *nats.Conn
		sinks []integration.Sink
	)
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")
		nc, err = integration.DialNATS(cfg.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
			sinks = append(sinks, integration.NewNATSSink(nc, cfg.NATS.SubjectPrefix))
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	if cfg.MQTT.Broker != "" {
		client, err := integration.DialMQTT(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, continuing without MQTT support")
		} else {
			sinks = append(sinks, integration.NewMQTTSink(client, cfg.MQTT))
		}
	}

	if len(sinks) > 0 {
		forwarder := integration.NewForwarderService(codec, 256, sinks...)
		presenters = append(presenters, forwarder)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Integration forwarder stopped")
			}
		}()
	}

	// The lab and its timers live on a single event loop
	loop := clock.NewLoop(64)
	lab := simulation.NewLab(cfg.Simulation, loop, presenters, nil)

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run()
	}()

	if nc != nil && cfg.NATS.Commands {
		subscriber := server.NewNATSSubscriber(nc, lab, loop, codec, cfg.NATS.SubjectPrefix)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("Starting NATS command subscriber")
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("NATS command subscriber stopped")
			}
		}()
	}

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, lab, loop, hub)
	if cfg.Metrics.Enabled {
		apiServer.Mount(cfg.Metrics.Path, promhttp.Handler())
	}

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("REST API server stopped")
		}
	}()

	log.Info().
		Str("name", cfg.Server.Name).
		Str("version", cfg.Server.Version).
		Str("profile", cfg.Simulation.DefaultProfile).
		Msg("Virtual lab started")

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Shutdown API server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Cancel context
	cancel()
	hub.Stop()

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Virtual lab stopped")
}

// setupLogging applies the configured level and format
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// printPasswordHash writes the bcrypt hash of password to w
func printPasswordHash(w io.Writer, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
