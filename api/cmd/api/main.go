package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/xesslabs/ledger/api/alerts"
	"github.com/xesslabs/ledger/api/config"
	"github.com/xesslabs/ledger/api/handlers"
	"github.com/xesslabs/ledger/api/metrics"
	"github.com/xesslabs/ledger/api/server"
	apisolana "github.com/xesslabs/ledger/api/solana"
	"github.com/xesslabs/ledger/engine/pkg/analytics"
	"github.com/xesslabs/ledger/engine/pkg/claim"
	"github.com/xesslabs/ledger/engine/pkg/epoch"
	"github.com/xesslabs/ledger/engine/pkg/referral"
	"github.com/xesslabs/ledger/utils/pkg/logger"

	solanago "github.com/gagliardetto/solana-go"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:3000"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for the rewards API")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (empty to disable)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 15*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")
	sweepIntervalFlag := flag.Duration("sweep-interval", 0, "Interval for the in-process stale claim sweep (0 disables; use the /ops endpoint instead)")
	allowedOriginsFlag := flag.String("allowed-origins", "", "Comma-separated CORS origins (default: allow all)")

	flag.Parse()

	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)
	log.Info("starting rewards ledger API", "version", version, "commit", commit, "date", date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Postgres is the source of truth for epochs and claims.
	pgCfg, err := config.PostgresConfigFromEnv()
	if err != nil {
		return err
	}
	pool, err := config.NewPostgresPool(ctx, log, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	epochs, err := epoch.NewPGStore(epoch.PGStoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}
	claims, err := claim.NewPGStore(claim.PGStoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}

	// Slack alerting for reconciliation anomalies; optional.
	var alerter claim.Alerter
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		slackAlerter, err := alerts.NewSlackAlerter(alerts.SlackAlerterConfig{
			Logger:  log,
			Channel: os.Getenv("SLACK_ALERT_CHANNEL"),
			Client:  alerts.NewSlackClient(token),
		})
		if err != nil {
			return fmt.Errorf("failed to create slack alerter: %w", err)
		}
		alerter = slackAlerter
		log.Info("slack alerting enabled", "channel", os.Getenv("SLACK_ALERT_CHANNEL"))
	} else {
		log.Warn("SLACK_BOT_TOKEN not set, reconciliation alerts will only be logged")
	}

	// On-chain settlement verification and epoch planning; optional.
	var verifier claim.TxVerifier
	var planner handlers.EpochPlanner
	if programID := os.Getenv("CLAIM_PROGRAM_ID"); programID != "" {
		pk, err := solanago.PublicKeyFromBase58(programID)
		if err != nil {
			return fmt.Errorf("failed to parse CLAIM_PROGRAM_ID: %w", err)
		}
		chain, err := apisolana.NewClient(apisolana.ClientConfig{
			Logger:    log,
			RPC:       apisolana.NewRPC(os.Getenv("SOLANA_RPC_URL")),
			ProgramID: pk,
		})
		if err != nil {
			return fmt.Errorf("failed to create solana client: %w", err)
		}
		verifier = chain
		planner = chain
		log.Info("on-chain settlement verification enabled", "program_id", programID)
	} else {
		log.Warn("CLAIM_PROGRAM_ID not set, settlement signatures will not be verified on chain")
	}

	claimService, err := claim.NewService(claim.ServiceConfig{
		Logger:   log,
		Epochs:   epochs,
		Claims:   claims,
		Alerter:  alerter,
		Verifier: verifier,
	})
	if err != nil {
		return err
	}

	builder, err := epoch.NewBuilder(epoch.BuilderConfig{Logger: log, Store: epochs})
	if err != nil {
		return err
	}

	handlerCfg := handlers.Config{
		Logger:     log,
		Claims:     claimService,
		Epochs:     epochs,
		Builder:    builder,
		Chain:      planner,
		CronSecret: os.Getenv("CRON_SECRET"),
	}

	// ClickHouse analytics (claim events and the leaderboard); optional.
	if chAddr := os.Getenv("CLICKHOUSE_ADDR_TCP"); chAddr != "" {
		chClient, err := analytics.NewClient(ctx, log,
			chAddr,
			envOr("CLICKHOUSE_DATABASE", "default"),
			envOr("CLICKHOUSE_USERNAME", "default"),
			os.Getenv("CLICKHOUSE_PASSWORD"),
			os.Getenv("CLICKHOUSE_SECURE") == "true",
		)
		if err != nil {
			return fmt.Errorf("failed to create clickhouse client: %w", err)
		}
		events, err := analytics.NewStore(analytics.StoreConfig{Logger: log, Client: chClient})
		if err != nil {
			return err
		}
		if err := events.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure clickhouse schema: %w", err)
		}
		handlerCfg.Events = events
		handlerCfg.Leaderboard = events
		log.Info("clickhouse analytics enabled", "addr", chAddr)
	} else {
		log.Warn("CLICKHOUSE_ADDR_TCP not set, claim events and leaderboard disabled")
	}

	// Neo4j referral graph (referrer shares at epoch build time); optional.
	if neoURI := os.Getenv("NEO4J_URI"); neoURI != "" {
		driver, err := neo4j.NewDriverWithContext(neoURI,
			neo4j.BasicAuth(os.Getenv("NEO4J_USERNAME"), os.Getenv("NEO4J_PASSWORD"), ""))
		if err != nil {
			return fmt.Errorf("failed to create neo4j driver: %w", err)
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := driver.Close(closeCtx); err != nil {
				log.Error("failed to close neo4j driver", "error", err)
			}
		}()
		edges, err := referral.NewNeo4jEdgeSource(referral.Neo4jEdgeSourceConfig{
			Logger:   log,
			Driver:   driver,
			Database: os.Getenv("NEO4J_DATABASE"),
		})
		if err != nil {
			return err
		}
		resolver, err := referral.NewResolver(referral.ResolverConfig{Logger: log, Edges: edges})
		if err != nil {
			return err
		}
		handlerCfg.Referrals = resolver
		log.Info("neo4j referral graph enabled", "uri", neoURI)
	} else {
		log.Warn("NEO4J_URI not set, epoch builds will not add referrer shares")
	}

	var allowedOrigins []string
	if *allowedOriginsFlag != "" {
		allowedOrigins = strings.Split(*allowedOriginsFlag, ",")
	}

	srv, err := server.New(server.Config{
		ListenAddr:      *listenAddrFlag,
		MetricsAddr:     *metricsAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		AllowedOrigins:  allowedOrigins,
		HandlerConfig:   handlerCfg,
		Pool:            pool,
	})
	if err != nil {
		return err
	}

	// Metrics server on its own listener.
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if *sweepIntervalFlag > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*sweepIntervalFlag)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					reverted, err := claimService.SweepStale(gctx)
					if err != nil {
						log.Error("stale claim sweep failed", "error", err)
						continue
					}
					if reverted > 0 {
						log.Info("stale claim sweep reverted claims", "count", reverted)
					}
				}
			}
		})
	}

	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
