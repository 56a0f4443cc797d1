package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetcomply/fleetcomply/internal/catalog"
	"github.com/fleetcomply/fleetcomply/internal/events"
	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
	otelobs "github.com/fleetcomply/fleetcomply/internal/observability/otel"
	"github.com/fleetcomply/fleetcomply/internal/rules"
	"github.com/fleetcomply/fleetcomply/internal/server"
	"github.com/fleetcomply/fleetcomply/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the compliance report server",
	Long: `Starts the HTTP server that ingests agent reports and serves the
derived compliance views (latest, history, streaks, what-if, drift).`,
	RunE: runServe,
}

var (
	serveAddrFlag     string
	serveDataDirFlag  string
	serveRulesDirFlag string
	serveStoreFlag    string
	servePGDSNFlag    string
	serveNATSURLFlag  string
	serveNATSSubject  string

	serveOTelFlag        bool
	serveOTelEndpoint    string
	serveOTelProtocol    string
	serveOTelInsecure    bool
	serveOTelSampleRatio float64
)

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", envOr("FLEETCOMPLY_ADDR", ":8080"), "HTTP listen address")
	serveCmd.Flags().StringVar(&serveDataDirFlag, "data-dir", envOr("FLEETCOMPLY_DATA_DIR", "server_data/agents"), "Directory for the file-backed report store")
	serveCmd.Flags().StringVar(&serveRulesDirFlag, "rules-dir", envOr("FLEETCOMPLY_RULES_DIR", ""), "Directory with YAML rule files (empty: built-in presets)")
	serveCmd.Flags().StringVar(&serveStoreFlag, "store", envOr("FLEETCOMPLY_STORE", "file"), "Report store backend (file, postgres)")
	serveCmd.Flags().StringVar(&servePGDSNFlag, "pg-dsn", envOr("FLEETCOMPLY_PG_DSN", ""), "PostgreSQL DSN (required for --store postgres)")
	serveCmd.Flags().StringVar(&serveNATSURLFlag, "nats-url", envOr("FLEETCOMPLY_NATS_URL", ""), "NATS URL for report events (empty: disabled)")
	serveCmd.Flags().StringVar(&serveNATSSubject, "nats-subject", events.DefaultSubject, "NATS subject for report events")

	serveCmd.Flags().BoolVar(&serveOTelFlag, "otel", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().StringVar(&serveOTelEndpoint, "otel-endpoint", "", "OTLP endpoint (default per protocol)")
	serveCmd.Flags().StringVar(&serveOTelProtocol, "otel-protocol", otelobs.ProtocolHTTP, "OTLP protocol (otlphttp, otlpgrpc)")
	serveCmd.Flags().BoolVar(&serveOTelInsecure, "otel-insecure", false, "Allow OTLP connections without TLS")
	serveCmd.Flags().Float64Var(&serveOTelSampleRatio, "otel-sample-ratio", 1.0, "Trace sampling ratio (0..1)")
}

// GetServeCmd exports the serve command.
func GetServeCmd() *cobra.Command {
	return serveCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.From(ctx)

	if serveOTelFlag {
		cfg := otelobs.DefaultConfig()
		cfg.Enabled = true
		cfg.Endpoint = serveOTelEndpoint
		cfg.Protocol = serveOTelProtocol
		cfg.Insecure = serveOTelInsecure
		cfg.SampleRatio = serveOTelSampleRatio

		handle, err := otelobs.Init(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = handle.Shutdown(shutdownCtx)
		}()
		ctx = otelobs.WithHandle(ctx, handle)
	}

	reports, configs, err := buildStores(log)
	if err != nil {
		return err
	}
	defer reports.Close()

	var pub *events.Publisher
	if serveNATSURLFlag != "" {
		pub, err = events.NewPublisher(serveNATSURLFlag, serveNATSSubject, log)
		if err != nil {
			return fmt.Errorf("connect event publisher: %w", err)
		}
		defer pub.Close()
	}

	loader := catalog.NewLoader(serveRulesDirFlag, log)
	loadCat := func() ([]models.RuleDefinition, error) { return loader.Load() }

	// Fail fast on an unloadable catalog instead of at first request.
	defs, err := loadCat()
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}
	log.Info("serve", "rule catalog loaded", "rules", len(defs), "dir", serveRulesDirFlag)

	engine := rules.NewEngine(log)
	srv := server.New(reports, configs, loadCat, engine, pub, log)

	// BaseContext carries the logger and tracing handle into request contexts.
	baseCtx := ctx
	httpServer := &http.Server{
		Addr:         serveAddrFlag,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serve", "HTTP server listening", "addr", serveAddrFlag, "store", serveStoreFlag)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-quit:
	}

	log.Info("serve", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildStores(log logging.Logger) (store.ReportStore, store.ConfigStore, error) {
	switch serveStoreFlag {
	case "file":
		reports, err := store.NewFileStore(serveDataDirFlag, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open report store: %w", err)
		}
		configs, err := store.NewFileConfigStore(serveDataDirFlag)
		if err != nil {
			return nil, nil, fmt.Errorf("open config store: %w", err)
		}
		return reports, configs, nil

	case "postgres":
		if servePGDSNFlag == "" {
			return nil, nil, fmt.Errorf("--pg-dsn is required with --store postgres")
		}
		pg, err := store.NewPostgresStore(servePGDSNFlag, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return pg, pg, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want file or postgres)", serveStoreFlag)
	}
}
