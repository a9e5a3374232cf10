package main

import (
    "bufio"
    "context"
    "log"
    "net"
    "net/http"
    "os/signal"
    "strconv"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "zonewatch/internal/api"
    "zonewatch/internal/config"
    "zonewatch/internal/ingest"
    "zonewatch/internal/metrics"
)

func main() {
    cfg, err := config.Load("")
    if err != nil {
        log.Fatalf("config: %v", err)
    }

    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Location ingest
    mux.HandleFunc("/v1/locations", srvDeps.LocationsHandler)
    mux.HandleFunc("/ws/locations", srvDeps.LocationsWSHandler)

    // Occupancy
    mux.HandleFunc("/v1/drivers/", srvDeps.OccupancyHandler)

    // Geofences
    mux.HandleFunc("/v1/geofences", srvDeps.GeofencesHandler)
    mux.HandleFunc("/v1/geofences/", srvDeps.GeofenceByIDHandler)

    // Event log and live feed
    mux.HandleFunc("/v1/geofence-events", srvDeps.EventsHandler)
    mux.HandleFunc("/v1/activity/stream", srvDeps.ActivityStreamHandler)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Admin
    mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)

    // Health, metrics, debug
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    mux.HandleFunc("/debugz", srvDeps.DebugJSON)

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    srvDeps.Engine.Start()
    defer srvDeps.Engine.Stop()

    worker := srvDeps.NewWebhookWorker()
    worker.Start()
    defer close(worker.Stop)

    if len(cfg.Kafka.Brokers) > 0 {
        consumer := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, srvDeps.Engine)
        go consumer.Run(ctx)
        log.Printf("kafka consumer on topic=%s brokers=%v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
    }

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           logMiddleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    go func() {
        <-ctx.Done()
        shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        _ = srv.Shutdown(shutCtx)
    }()

    log.Printf("API listening on %s", srv.Addr)
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// SSE needs Flush, the websocket upgrade needs Hijack.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    if h, ok := r.ResponseWriter.(http.Hijacker); ok {
        return h.Hijack()
    }
    return nil, nil, http.ErrNotSupported
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
    })
}
