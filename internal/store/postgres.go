package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "strconv"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "zonewatch/internal/model"
)

// Postgres persists geofences, the event log, order status, subscriptions
// and the webhook delivery queue.
type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the schema. Idempotent; dev helper, same role the
// migration runner plays in production.
func (p *Postgres) Migrate(ctx context.Context) error {
    stmts := []string{
        `CREATE TABLE IF NOT EXISTS geofences (
            id UUID PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            name TEXT,
            kind TEXT NOT NULL,
            center_lat DOUBLE PRECISION,
            center_lng DOUBLE PRECISION,
            radius_m DOUBLE PRECISION,
            vertices JSONB,
            purpose TEXT,
            active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
        `CREATE INDEX IF NOT EXISTS idx_geofences_tenant_active ON geofences (tenant_id) WHERE active`,
        `CREATE TABLE IF NOT EXISTS geofence_events (
            id UUID PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            geofence_id TEXT NOT NULL,
            driver_id TEXT NOT NULL,
            order_id TEXT,
            event_type TEXT NOT NULL,
            purpose TEXT,
            ts TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
        `CREATE INDEX IF NOT EXISTS idx_geofence_events_tenant ON geofence_events (tenant_id, created_at)`,
        `CREATE TABLE IF NOT EXISTS orders (
            tenant_id TEXT NOT NULL,
            id TEXT NOT NULL,
            status TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (tenant_id, id)
        )`,
        `CREATE TABLE IF NOT EXISTS subscriptions (
            id UUID PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            url TEXT NOT NULL,
            events JSONB NOT NULL,
            secret TEXT
        )`,
        `CREATE TABLE IF NOT EXISTS webhook_deliveries (
            id UUID PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            subscription_id TEXT,
            event_type TEXT NOT NULL,
            url TEXT NOT NULL,
            secret TEXT,
            payload BYTEA,
            status TEXT NOT NULL,
            attempts INT NOT NULL DEFAULT 0,
            next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_error TEXT,
            response_code INT,
            latency_ms INT,
            delivered_at TIMESTAMPTZ
        )`,
        `CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries (next_attempt_at) WHERE status IN ('pending','retry')`,
    }
    for _, s := range stmts {
        if _, err := p.db.ExecContext(ctx, s); err != nil {
            return err
        }
    }
    return nil
}

// Geofences

func (p *Postgres) CreateGeofence(ctx context.Context, tenantID string, in model.GeofenceInput) (model.Geofence, error) {
    id := uuid.New().String()
    active := true
    if in.Active != nil {
        active = *in.Active
    }
    var clat, clng any
    if in.Center != nil {
        clat, clng = in.Center.Lat, in.Center.Lng
    }
    _, err := p.db.ExecContext(ctx,
        `INSERT INTO geofences (id, tenant_id, name, kind, center_lat, center_lng, radius_m, vertices, purpose, active)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
        id, tenantID, nullIfEmpty(in.Name), string(in.Kind), clat, clng, in.RadiusM, toJSON(in.Vertices), nullIfEmpty(in.Purpose), active)
    if err != nil {
        return model.Geofence{}, err
    }
    return p.GetGeofence(ctx, tenantID, id)
}

const geofenceCols = `id::text, tenant_id, COALESCE(name,''), kind, center_lat, center_lng, COALESCE(radius_m,0), vertices, COALESCE(purpose,''), active`

func (p *Postgres) ListGeofences(ctx context.Context, tenantID, cursor string, limit int) ([]model.Geofence, string, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT `+geofenceCols+` FROM geofences WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+geofenceCols+` FROM geofences WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil {
        return nil, "", err
    }
    defer rows.Close()
    out := []model.Geofence{}
    for rows.Next() {
        gf, err := scanGeofence(rows)
        if err != nil {
            return nil, "", err
        }
        out = append(out, gf)
    }
    next := ""
    if len(out) == limit {
        next = out[len(out)-1].ID
    }
    return out, next, rows.Err()
}

func (p *Postgres) GetGeofence(ctx context.Context, tenantID, id string) (model.Geofence, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+geofenceCols+` FROM geofences WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    gf, err := scanGeofence(row)
    if errors.Is(err, sql.ErrNoRows) {
        return model.Geofence{}, ErrNotFound
    }
    return gf, err
}

func (p *Postgres) PatchGeofence(ctx context.Context, tenantID, id string, in model.GeofenceInput) (model.Geofence, error) {
    gf, err := p.GetGeofence(ctx, tenantID, id)
    if err != nil {
        return model.Geofence{}, err
    }
    if in.Name != "" {
        gf.Name = in.Name
    }
    if in.Kind != "" {
        gf.Kind = in.Kind
    }
    if in.RadiusM != 0 {
        gf.RadiusM = in.RadiusM
    }
    if in.Center != nil {
        gf.Center = in.Center
    }
    if len(in.Vertices) > 0 {
        gf.Vertices = in.Vertices
    }
    if in.Purpose != "" {
        gf.Purpose = in.Purpose
    }
    if in.Active != nil {
        gf.Active = *in.Active
    }
    var clat, clng any
    if gf.Center != nil {
        clat, clng = gf.Center.Lat, gf.Center.Lng
    }
    _, err = p.db.ExecContext(ctx,
        `UPDATE geofences SET name=$3, kind=$4, center_lat=$5, center_lng=$6, radius_m=$7, vertices=$8, purpose=$9, active=$10 WHERE tenant_id=$1 AND id::text=$2`,
        tenantID, id, nullIfEmpty(gf.Name), string(gf.Kind), clat, clng, gf.RadiusM, toJSON(gf.Vertices), nullIfEmpty(gf.Purpose), gf.Active)
    if err != nil {
        return model.Geofence{}, err
    }
    return gf, nil
}

func (p *Postgres) DeactivateGeofence(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE geofences SET active=FALSE WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return ErrNotFound
    }
    return nil
}

func (p *Postgres) ListActiveGeofences(ctx context.Context, tenantID string) ([]model.Geofence, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+geofenceCols+` FROM geofences WHERE tenant_id=$1 AND active ORDER BY id`, tenantID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []model.Geofence{}
    for rows.Next() {
        gf, err := scanGeofence(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, gf)
    }
    return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanGeofence(r rowScanner) (model.Geofence, error) {
    var gf model.Geofence
    var clat, clng sql.NullFloat64
    var vertices []byte
    var kind string
    if err := r.Scan(&gf.ID, &gf.TenantID, &gf.Name, &kind, &clat, &clng, &gf.RadiusM, &vertices, &gf.Purpose, &gf.Active); err != nil {
        return model.Geofence{}, err
    }
    gf.Kind = model.GeofenceKind(kind)
    if clat.Valid && clng.Valid {
        gf.Center = &model.GeoPoint{Lat: clat.Float64, Lng: clng.Float64}
    }
    if len(vertices) > 0 {
        _ = json.Unmarshal(vertices, &gf.Vertices)
    }
    return gf, nil
}

// Geofence events

func (p *Postgres) InsertGeofenceEvent(ctx context.Context, evt model.GeofenceEvent) error {
    ts, err := time.Parse(time.RFC3339, evt.TS)
    if err != nil {
        ts = time.Now().UTC()
    }
    _, err = p.db.ExecContext(ctx,
        `INSERT INTO geofence_events (id, tenant_id, geofence_id, driver_id, order_id, event_type, purpose, ts)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        evt.ID, evt.TenantID, evt.GeofenceID, evt.DriverID, nullIfEmpty(evt.OrderID), evt.Type, nullIfEmpty(evt.Purpose), ts)
    return err
}

func (p *Postgres) ListGeofenceEvents(ctx context.Context, tenantID string, q model.EventQuery, cursor string, limit int) ([]model.GeofenceEvent, string, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    query := `SELECT id::text, tenant_id, geofence_id, driver_id, COALESCE(order_id,''), event_type, COALESCE(purpose,''), to_char(ts AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
              FROM geofence_events WHERE tenant_id=$1`
    args := []any{tenantID}
    if q.DriverID != "" {
        args = append(args, q.DriverID)
        query += ` AND driver_id=$` + itoa(len(args))
    }
    if q.GeofenceID != "" {
        args = append(args, q.GeofenceID)
        query += ` AND geofence_id=$` + itoa(len(args))
    }
    if q.Type != "" {
        args = append(args, q.Type)
        query += ` AND event_type=$` + itoa(len(args))
    }
    if cursor != "" {
        args = append(args, cursor)
        query += ` AND id::text > $` + itoa(len(args))
    }
    args = append(args, limit)
    query += ` ORDER BY id LIMIT $` + itoa(len(args))

    rows, err := p.db.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, "", err
    }
    defer rows.Close()
    out := []model.GeofenceEvent{}
    for rows.Next() {
        var e model.GeofenceEvent
        if err := rows.Scan(&e.ID, &e.TenantID, &e.GeofenceID, &e.DriverID, &e.OrderID, &e.Type, &e.Purpose, &e.TS); err != nil {
            return nil, "", err
        }
        out = append(out, e)
    }
    next := ""
    if len(out) == limit {
        next = out[len(out)-1].ID
    }
    return out, next, rows.Err()
}

// Orders

func (p *Postgres) AdvanceOrderStatus(ctx context.Context, tenantID, orderID, status string) error {
    _, err := p.db.ExecContext(ctx,
        `INSERT INTO orders (tenant_id, id, status, updated_at) VALUES ($1,$2,$3,now())
         ON CONFLICT (tenant_id, id) DO UPDATE SET status=EXCLUDED.status, updated_at=now()`,
        tenantID, orderID, status)
    return err
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    _, err := p.db.ExecContext(ctx,
        `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
        s.ID, s.TenantID, s.URL, toJSON(s.Events), nullIfEmpty(s.Secret))
    if err != nil {
        return model.Subscription{}, err
    }
    return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    subs, _, err := p.ListSubscriptions(ctx, tenantID, "", 500)
    if err != nil {
        return nil, err
    }
    var out []model.Subscription
    for _, s := range subs {
        for _, e := range s.Events {
            if e == eventType {
                out = append(out, s)
                break
            }
        }
    }
    return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, events, COALESCE(secret,'') FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil {
        return nil, "", err
    }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil {
            return nil, "", err
        }
        _ = json.Unmarshal(events, &s.Events)
        out = append(out, s)
    }
    next := ""
    if len(out) == limit {
        next = out[len(out)-1].ID
    }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    return err
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx,
        `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, next_attempt_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',now())`,
        id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
    return id, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 {
        limit = 50
    }
    rows, err := p.db.QueryContext(ctx,
        `SELECT id::text, tenant_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
         FROM webhook_deliveries
         WHERE status IN ('pending','retry') AND next_attempt_at <= now()
         ORDER BY next_attempt_at LIMIT $1`, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
            return nil, err
        }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx,
            `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3, delivered_at=now() WHERE id::text=$1`,
            id, responseCode, latencyMs)
        return err
    }
    next := time.Now().Add(time.Minute)
    if nextAttemptAt != nil {
        next = *nextAttemptAt
    }
    _, err := p.db.ExecContext(ctx,
        `UPDATE webhook_deliveries SET status='retry', attempts=attempts+1, next_attempt_at=$2, last_error=$3, response_code=$4, latency_ms=$5 WHERE id::text=$1`,
        id, next, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx,
        `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4 WHERE id::text=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }
    query := `SELECT id::text, event_type, status, attempts, url, COALESCE(last_error,'') FROM webhook_deliveries WHERE tenant_id=$1`
    args := []any{tenantID}
    if status != "" {
        args = append(args, status)
        query += ` AND status=$` + itoa(len(args))
    }
    if cursor != "" {
        args = append(args, cursor)
        query += ` AND id::text > $` + itoa(len(args))
    }
    args = append(args, limit)
    query += ` ORDER BY id LIMIT $` + itoa(len(args))
    rows, err := p.db.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, "", err
    }
    defer rows.Close()
    out := []map[string]any{}
    last := ""
    for rows.Next() {
        var id, et, st, url, lastErr string
        var attempts int
        if err := rows.Scan(&id, &et, &st, &attempts, &url, &lastErr); err != nil {
            return nil, "", err
        }
        item := map[string]any{"id": id, "eventType": et, "status": st, "attempts": attempts, "url": url}
        if lastErr != "" {
            item["lastError"] = lastErr
        }
        out = append(out, item)
        last = id
    }
    next := ""
    if len(out) == limit {
        next = last
    }
    return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    _, err := p.db.ExecContext(ctx,
        `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id::text=$2`,
        tenantID, id)
    return err
}

// helpers

func nullIfEmpty(s string) any {
    if s == "" {
        return nil
    }
    return s
}

func toJSON(v any) any {
    if v == nil {
        return nil
    }
    b, err := json.Marshal(v)
    if err != nil {
        return nil
    }
    return b
}

func itoa(n int) string { return strconv.Itoa(n) }
