package api

import (
    "os"
    "strconv"
    "sync"

    "golang.org/x/time/rate"
)

// driverLimiter throttles location ingest per driver so a chatty device
// cannot starve the rest of the fleet.
type driverLimiter struct {
    mu    sync.Mutex
    m     map[string]*rate.Limiter
    rps   rate.Limit
    burst int
}

func newDriverLimiterFromEnv() *driverLimiter {
    rps := 10.0
    burst := 20
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 { rps = f }
    }
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    return &driverLimiter{m: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (l *driverLimiter) Allow(tenantID, driverID string) bool {
    key := tenantID + "|" + driverID
    l.mu.Lock()
    lim := l.m[key]
    if lim == nil {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.m[key] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}
