package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/cambia-market/order-lifecycle/internal/events"
	"github.com/cambia-market/order-lifecycle/internal/orders"
	"github.com/cambia-market/order-lifecycle/internal/telemetry"
)

func withSearchPath(postgresURL, schema string) string {
	sep := "?"
	if strings.Contains(postgresURL, "?") {
		sep = "&"
	}
	return postgresURL + sep + "search_path=" + schema
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	// search_path goes on the connection string so every pooled connection
	// lands in the orders schema
	db, err := telemetry.OpenDB("postgres", withSearchPath(postgresURL, "orders"))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var publisher orders.Publisher
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		producer := events.NewProducer(brokers, events.TopicOrderTransitioned)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	repo := orders.NewRepository(db)
	handler := orders.NewHandler(repo, publisher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", handler.HandleCreate)
	mux.HandleFunc("GET /orders", handler.HandleList)
	mux.HandleFunc("GET /orders/{id}", handler.HandleGet)
	mux.HandleFunc("POST /orders/{id}/status", handler.HandleTransition)
	mux.HandleFunc("POST /orders/{id}/confirm", handler.HandleConfirm)
	mux.HandleFunc("POST /orders/{id}/processing", handler.HandleProcessing)
	mux.HandleFunc("POST /orders/{id}/shipped", handler.HandleShipped)
	mux.HandleFunc("POST /orders/{id}/delivered", handler.HandleDelivered)
	mux.HandleFunc("POST /orders/{id}/cancel", handler.HandleCancel)
	mux.HandleFunc("GET /orders/{id}/tracking", handler.HandleTracking)
	mux.HandleFunc("GET /orders/{id}/escrow", handler.HandleEscrow)
	mux.HandleFunc("POST /orders/{id}/dispute", handler.HandleOpenDispute)
	mux.HandleFunc("POST /orders/{id}/dispute/resolve", handler.HandleResolveDispute)
	mux.HandleFunc("GET /customers/{id}/orders", handler.HandleCustomerOrders)
	mux.HandleFunc("GET /vendors/{id}/orders", handler.HandleVendorOrders)
	mux.HandleFunc("GET /shipping/orders", handler.HandleShippingOrders)
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
