package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	salecfg "tokensale/config"
	"tokensale/core/events"
	nativecommon "tokensale/native/common"
	"tokensale/native/bank"
	"tokensale/native/presale"
	"tokensale/observability"
	"tokensale/observability/logging"
	telemetry "tokensale/observability/otel"
	"tokensale/services/presaled/config"
	"tokensale/services/presaled/journal"
	"tokensale/services/presaled/server"
	bankstate "tokensale/state/bank"
	presalestate "tokensale/state/presale"
	"tokensale/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/presaled/config.yaml", "path to presaled configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("presaled: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("TOKENSALE_ENV"))
	logger := logging.Setup("presaled", env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      cfg.Log.SlogLevel(),
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(env, cfg.Telemetry))
	if err != nil {
		log.Fatalf("presaled: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	_, sale, err := salecfg.LoadSale(cfg.SaleFile)
	if err != nil {
		log.Fatalf("presaled: load sale: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatalf("presaled: create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("presaled: open ledger: %v", err)
	}
	defer db.Close()

	ledger := bank.NewLedger(bankstate.NewStore(db))
	resolver := presale.AssetResolverFunc(func(ref common.Address) (presale.Asset, error) {
		return ledger.Handle(ref), nil
	})
	engine, err := presale.NewEngine(sale.Engine, presalestate.NewStore(db), resolver)
	if err != nil {
		log.Fatalf("presaled: build engine: %v", err)
	}

	journalDB, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("presaled: open journal: %v", err)
	}
	stdLogger := log.Default()
	eventJournal, err := journal.New(journalDB, stdLogger)
	if err != nil {
		log.Fatalf("presaled: migrate journal: %v", err)
	}
	if count, err := eventJournal.Verify(context.Background()); err != nil {
		log.Fatalf("presaled: journal verification failed after %d entries: %v", count, err)
	}

	hub := server.NewHub(0)
	pauses := nativecommon.NewPauseSet(cfg.Paused...)
	metrics := observability.Presale()
	metrics.SetDecimals(sale.Engine.TokenDecimals)

	emitter := events.MultiEmitter{eventJournal, metrics, hub}
	engine.SetEmitter(emitter)
	engine.SetPauses(pauses)
	ledger.SetEmitter(emitter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, engine, ledger, sale, logger); err != nil {
		log.Fatalf("presaled: bootstrap: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		TLS: server.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		PurchaseLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.Purchases.RequestsPerMinute,
			Burst:             cfg.RateLimit.Purchases.Burst,
		},
	}, server.Runtime{
		Engine:  engine,
		Ledger:  ledger,
		Journal: eventJournal,
		Hub:     hub,
		Pauses:  pauses,
		Metrics: metrics,
	}, stdLogger)
	if err != nil {
		log.Fatalf("presaled: build server: %v", err)
	}

	logger.Info("presaled starting",
		logging.MaskField("listen", cfg.ListenAddress),
		logging.MaskField("data_dir", cfg.DataDir),
		logging.MaskField("sale_file", cfg.SaleFile),
		logging.MaskField("driver", cfg.Journal.Driver),
		logging.MaskField("dsn", cfg.Journal.DSN),
		logging.MaskField("tls_key", cfg.TLS.KeyFile),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		slog.Any("paused", pauses.Modules()))
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("presaled: server error: %v", err)
	}
}

// telemetryConfig merges the config file with the standard OTEL_* variables.
func telemetryConfig(env string, cfg config.TelemetryConfig) telemetry.Config {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	insecure := true
	if cfg.Insecure != nil {
		insecure = *cfg.Insecure
	} else if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName: "presaled",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     headers,
		Metrics:     cfg.Metrics,
		Traces:      cfg.Traces,
		SampleRatio: cfg.SampleRatio,
	}
}
