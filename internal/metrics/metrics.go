package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
    Registry = prometheus.NewRegistry()

    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // FixesProcessed counts location fixes by outcome: ok, baseline, invalid,
    // store_unavailable, dropped
    FixesProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "fixes_processed_total", Help: "Location fixes by processing outcome."},
        []string{"result"},
    )
    // EvalDuration tracks per-fix evaluation time in seconds
    EvalDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "fix_evaluation_duration_seconds", Help: "Per-fix geofence evaluation duration.", Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5}},
    )
    // Transitions counts emitted enter/exit transitions
    Transitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "geofence_transitions_total", Help: "Detected geofence transitions by type."},
        []string{"type"},
    )
    // RegistryReloads counts geofence snapshot reloads by status
    RegistryReloads = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "geofence_registry_reloads_total", Help: "Geofence registry reloads by status."},
        []string{"status"},
    )
    // EventPersistFailures counts transitions whose event write failed
    EventPersistFailures = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "geofence_event_persist_failures_total", Help: "Geofence events lost to storage failures."},
    )
    // NotifyFailures counts best-effort sink notification failures
    NotifyFailures = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "geofence_notify_failures_total", Help: "Downstream notification failures by sink."},
        []string{"sink"},
    )

    // KafkaMessages counts ingest consumer outcomes: ok, invalid, rejected
    KafkaMessages = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "ingest_kafka_messages_total", Help: "Kafka location messages by outcome."},
        []string{"result"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(FixesProcessed)
        Registry.MustRegister(EvalDuration)
        Registry.MustRegister(Transitions)
        Registry.MustRegister(RegistryReloads)
        Registry.MustRegister(EventPersistFailures)
        Registry.MustRegister(NotifyFailures)
        Registry.MustRegister(KafkaMessages)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
