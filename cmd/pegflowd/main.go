package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/pegflow/internal/auth"
	"github.com/terminal-bench/pegflow/internal/boardroom"
	"github.com/terminal-bench/pegflow/internal/chain"
	"github.com/terminal-bench/pegflow/internal/exchange"
	"github.com/terminal-bench/pegflow/internal/gateway"
	"github.com/terminal-bench/pegflow/internal/guard"
	"github.com/terminal-bench/pegflow/internal/oracle"
	"github.com/terminal-bench/pegflow/internal/params"
	"github.com/terminal-bench/pegflow/internal/token"
	"github.com/terminal-bench/pegflow/internal/treasury"
	"github.com/terminal-bench/pegflow/pkg/messaging"
)

type config struct {
	Port        string
	NATSUrl     string
	DatabaseURL string
	RedisURL    string
	InfluxURL   string
	InfluxToken string
	InfluxOrg   string
	InfluxBkt   string
	EtcdURLs    string
	RouterURL   string
	JWTSecret   string
	Admin       string

	EpochPeriod time.Duration
	SlotLength  time.Duration
	StartTime   time.Time
}

func loadConfig() *config {
	cfg := &config{
		Port:        getEnv("PORT", "8000"),
		NATSUrl:     getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		InfluxURL:   os.Getenv("INFLUX_URL"),
		InfluxToken: os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:   getEnv("INFLUX_ORG", "pegflow"),
		InfluxBkt:   getEnv("INFLUX_BUCKET", "prices"),
		EtcdURLs:    os.Getenv("ETCD_ENDPOINTS"),
		RouterURL:   os.Getenv("AMM_ROUTER_URL"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		Admin:       getEnv("ADMIN_ACCOUNT", "admin"),
		EpochPeriod: getDuration("EPOCH_PERIOD", 6*time.Hour),
		SlotLength:  getDuration("SLOT_LENGTH", time.Second),
	}

	cfg.StartTime = time.Now().UTC().Truncate(cfg.EpochPeriod)
	if raw := os.Getenv("EPOCH_START"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			cfg.StartTime = ts
		} else {
			log.Printf("Ignoring invalid EPOCH_START %q: %v", raw, err)
		}
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Ignoring invalid %s %q", key, raw)
	return defaultVal
}

func main() {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgClient, err := messaging.NewClient(cfg.NATSUrl, messaging.Options{
		Name:           "pegflowd",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	// Ledgers: postgres when configured, in-memory otherwise.
	var cash, bonds, shares token.Ledger
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		cash = token.NewPGLedger(db, "cash")
		bonds = token.NewPGLedger(db, "bond")
		shares = token.NewPGLedger(db, "share")
	} else {
		log.Println("DATABASE_URL not set, using in-memory ledgers")
		cash = token.NewMemLedger("cash")
		bonds = token.NewMemLedger("bond")
		shares = token.NewMemLedger("share")
	}

	// Price oracle: live feed when configured, pinned to the peg otherwise.
	var orc oracle.Oracle
	if cfg.RedisURL != "" && cfg.InfluxURL != "" {
		orc = oracle.NewFeed(oracle.FeedConfig{
			RedisURL:    cfg.RedisURL,
			InfluxURL:   cfg.InfluxURL,
			InfluxToken: cfg.InfluxToken,
			InfluxOrg:   cfg.InfluxOrg,
			Bucket:      cfg.InfluxBkt,
		})
	} else {
		log.Println("Price feed not configured, pinning the oracle to the peg")
		static := &oracle.Static{}
		static.SetPrice(decimal.NewFromInt(1))
		orc = static
	}

	// Parameter store, optionally backed by etcd.
	var etcdClient *clientv3.Client
	if cfg.EtcdURLs != "" {
		etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   strings.Split(cfg.EtcdURLs, ","),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdClient.Close()
	}
	store, err := params.NewStore(params.Default(), etcdClient, "")
	if err != nil {
		log.Fatalf("Invalid default parameters: %v", err)
	}
	if err := store.Load(ctx); err != nil {
		log.Fatalf("Failed to load parameters: %v", err)
	}

	var exch exchange.Exchange
	if cfg.RouterURL != "" {
		exch = exchange.NewRouter(cfg.RouterURL, 10*time.Second)
	} else {
		log.Println("AMM_ROUTER_URL not set, settling rewards 1:1")
		exch = &exchange.Fixed{Rate: decimal.NewFromInt(1)}
	}

	clock := chain.NewSystemClock(cfg.SlotLength)
	g := guard.New(0)

	board := boardroom.New(boardroom.Config{
		Clock:           clock,
		Guard:           g,
		Params:          store,
		Shares:          shares,
		Cash:            cash,
		Exch:            exch,
		Events:          msgClient,
		Account:         "boardroom",
		Operator:        "treasury",
		SettlementDenom: "usd",
		RouterAccount:   "amm-router",
	})
	tr := treasury.New(treasury.Config{
		Clock:       clock,
		Guard:       g,
		Params:      store,
		Cash:        cash,
		Bonds:       bonds,
		Oracle:      orc,
		Board:       board,
		Events:      msgClient,
		Account:     "treasury",
		BuybackSink: "buyback-sink",
		StartTime:   cfg.StartTime,
		Period:      cfg.EpochPeriod,
	})
	board.BindRounds(tr)
	tr.Activate()

	var authDB *sql.DB
	if cfg.DatabaseURL != "" {
		authDB, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open auth database: %v", err)
		}
		defer authDB.Close()
	}
	authSvc := auth.NewService(authDB, cfg.JWTSecret, 24*time.Hour)

	gw := gateway.New(gateway.Config{Admin: cfg.Admin}, gateway.Deps{
		Auth:     authSvc,
		Treasury: tr,
		Board:    board,
		Params:   store,
		Oracle:   orc,
		Cash:     cash,
		Bonds:    bonds,
		Shares:   shares,
		Events:   msgClient,
	})
	if err := gw.StartEventRelay(); err != nil {
		log.Fatalf("Failed to start event relay: %v", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("pegflowd listening on port %s, round %d opens at %s",
			cfg.Port, tr.Round(), tr.NextRoundPoint().Format(time.RFC3339))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		store.Watch(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("pegflowd exited: %v", err)
	}
	log.Println("pegflowd stopped")
}
