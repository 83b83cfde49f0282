package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-checkout-orders.git/internal/cart"
	"github.com/ariefcatur/go-checkout-orders.git/internal/catalog"
	"github.com/ariefcatur/go-checkout-orders.git/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders.git/internal/config"
	"github.com/ariefcatur/go-checkout-orders.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-orders.git/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders.git/internal/ledger"
	"github.com/ariefcatur/go-checkout-orders.git/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders.git/internal/orders"
	"github.com/ariefcatur/go-checkout-orders.git/internal/payment"
	"github.com/ariefcatur/go-checkout-orders.git/internal/postgres"
	"github.com/ariefcatur/go-checkout-orders.git/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCharge := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentRequested, 1024)
	pCommitted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockCommitted, 1024)
	pReleased := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockReleased, 1024)
	pFinalized := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderFinalized, 1024)
	pReconcile := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicReconcileFlagged, 1024)
	producers := []*kafkax.Producer{pCreated, pCharge, pCommitted, pReleased, pFinalized, pReconcile}
	for _, p := range producers {
		p.Start(ctx)
	}

	m := metrics.NewCheckoutMetrics("api")

	orch := &checkout.Orchestrator{
		Builder:  &cart.Builder{Catalog: &catalog.PG{DB: db}},
		Ledger:   &ledger.PG{DB: db, TTL: cfg.ReservationTTL},
		Orders:   &orders.Repo{DB: db},
		Payments: &payment.KafkaCharger{Producer: pCharge, Service: cfg.ServiceName},
		Pub: checkout.Publishers{
			OrderCreated:   pCreated,
			StockCommitted: pCommitted,
			StockReleased:  pReleased,
			OrderFinalized: pFinalized,
			Reconcile:      pReconcile,
		},
		Reconcile: &redisx.Flagger{RDB: rdb},
		Service:   cfg.ServiceName,
	}

	// payment results can also arrive as events
	rh := &payment.ResultHandler{Orch: orch, Redis: rdb, ServiceName: cfg.ServiceName, Metrics: m}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentGroup, orders.TopicPaymentResult, cfg.PaymentWorkers)
	go func() {
		log.Printf("payment consumer started: group=%s topic=%s", cfg.PaymentGroup, orders.TopicPaymentResult)
		if err := cons.Start(ctx, rh.Handle); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// HTTP
	router := httpx.NewRouter()
	ch := &httpx.CheckoutHandler{Orch: orch, Redis: rdb, Metrics: m, Service: cfg.ServiceName}
	ch.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // flush & close writer
	}
	for _, p := range producers {
		p.WaitClosed() // drain
	}
	cancel() // stop consumer
}
