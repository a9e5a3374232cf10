package api

import (
    "context"
    "log"
    "strings"

    "zonewatch/internal/auth"
    "zonewatch/internal/config"
    "zonewatch/internal/emit"
    "zonewatch/internal/engine"
    "zonewatch/internal/registry"
    "zonewatch/internal/store"
    "zonewatch/internal/webhooks"
)

type Server struct {
    Store    store.Store
    Pub      *webhooks.Publisher
    Auth     *auth.Verifier
    Broker   EventBroker
    Registry *registry.Registry
    Engine   *engine.Engine
    Fixes    *FixCache
    limiter  *driverLimiter
}

// NewServer wires the store, geofence registry, evaluation engine and event
// sinks. If cfg.DatabaseURL is unset, uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if err := sp.Migrate(context.Background()); err != nil {
            log.Printf("migrate: %v", err)
        }
        s = sp
    }

    // Broker selection
    var broker EventBroker
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }

    pub := webhooks.NewPublisher(s)
    reg := registry.New(s, cfg.Registry.CacheTTL, cfg.Registry.LoadTimeout)
    emitter := emit.New(s,
        &emit.WebhookNotifier{Pub: pub},
        &emit.FeedNotifier{Broker: activityFeed{b: broker}},
        &emit.OrderAdvancer{Store: s},
    )
    eng := engine.New(reg, emitter, cfg.Engine.Workers, cfg.Engine.QueueLen)

    return &Server{
        Store:    s,
        Pub:      pub,
        Auth:     auth.NewVerifierFromEnv(),
        Broker:   broker,
        Registry: reg,
        Engine:   eng,
        Fixes:    NewFixCache(),
        limiter:  newDriverLimiterFromEnv(),
    }, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}
