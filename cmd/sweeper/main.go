package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-checkout-orders.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders.git/internal/config"
	kafkax "github.com/ariefcatur/go-checkout-orders.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders.git/internal/ledger"
	"github.com/ariefcatur/go-checkout-orders.git/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
	"github.com/ariefcatur/go-checkout-orders.git/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Producers: released & finalized
	pReleased := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockReleased, 1024)
	pReleased.Start(ctx)
	pFinalized := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderFinalized, 1024)
	pFinalized.Start(ctx)

	m := metrics.NewCheckoutMetrics("sweeper")
	go func() {
		// expose /metrics for scraping
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil {
			log.Printf("metrics listen: %v", err)
		}
	}()

	orch := &checkout.Orchestrator{
		Ledger: &ledger.PG{DB: db, TTL: cfg.ReservationTTL},
		Orders: &orders.Repo{DB: db},
		Pub: checkout.Publishers{
			StockReleased:  pReleased,
			OrderFinalized: pFinalized,
		},
		Service: cfg.ServiceName + "-sweeper",
	}
	sw := &checkout.Sweeper{Orch: orch, Interval: cfg.SweepInterval, Metrics: m}

	go func() {
		log.Printf("sweeper started: interval=%s ttl=%s", cfg.SweepInterval, cfg.ReservationTTL)
		sw.Run(ctx)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down sweeper...")
	pReleased.Close()
	pFinalized.Close()
	pReleased.WaitClosed()
	pFinalized.WaitClosed()
	cancel()
}
