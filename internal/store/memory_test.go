package store

import (
    "context"
    "testing"
    "time"

    "zonewatch/internal/model"
)

func TestMemoryGeofenceLifecycle(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    gf, err := m.CreateGeofence(ctx, "t1", model.GeofenceInput{Name: "depot", Kind: model.KindCircle, Center: &model.GeoPoint{Lat: 40, Lng: -74}, RadiusM: 250, Purpose: "pickup-zone"})
    if err != nil {
        t.Fatalf("create: %v", err)
    }
    if gf.ID == "" || !gf.Active {
        t.Fatalf("unexpected geofence: %+v", gf)
    }

    got, err := m.GetGeofence(ctx, "t1", gf.ID)
    if err != nil || got.Name != "depot" {
        t.Fatalf("get: %v %+v", err, got)
    }
    if _, err := m.GetGeofence(ctx, "t2", gf.ID); err != ErrNotFound {
        t.Fatalf("cross-tenant get should be not found, got %v", err)
    }

    patched, err := m.PatchGeofence(ctx, "t1", gf.ID, model.GeofenceInput{RadiusM: 500})
    if err != nil || patched.RadiusM != 500 {
        t.Fatalf("patch: %v %+v", err, patched)
    }
    if patched.Name != "depot" {
        t.Fatalf("patch clobbered name: %+v", patched)
    }

    active, err := m.ListActiveGeofences(ctx, "t1")
    if err != nil || len(active) != 1 {
        t.Fatalf("active: %v %d", err, len(active))
    }
    if err := m.DeactivateGeofence(ctx, "t1", gf.ID); err != nil {
        t.Fatalf("deactivate: %v", err)
    }
    active, _ = m.ListActiveGeofences(ctx, "t1")
    if len(active) != 0 {
        t.Fatalf("deactivated geofence still active")
    }
    // still listed, just inactive
    all, _, err := m.ListGeofences(ctx, "t1", "", 10)
    if err != nil || len(all) != 1 || all[0].Active {
        t.Fatalf("list after deactivate: %v %+v", err, all)
    }
}

func TestMemoryDeactivateMissing(t *testing.T) {
    m := NewMemory()
    if err := m.DeactivateGeofence(context.Background(), "t1", "nope"); err != ErrNotFound {
        t.Fatalf("want ErrNotFound, got %v", err)
    }
}

func TestMemoryGeofencePagination(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    for i := 0; i < 5; i++ {
        if _, err := m.CreateGeofence(ctx, "t1", model.GeofenceInput{Kind: model.KindCircle, Center: &model.GeoPoint{}, RadiusM: 10}); err != nil {
            t.Fatal(err)
        }
    }
    page1, next, err := m.ListGeofences(ctx, "t1", "", 2)
    if err != nil || len(page1) != 2 || next == "" {
        t.Fatalf("page1: %v %d %q", err, len(page1), next)
    }
    page2, next2, err := m.ListGeofences(ctx, "t1", next, 2)
    if err != nil || len(page2) != 2 || next2 == "" {
        t.Fatalf("page2: %v %d %q", err, len(page2), next2)
    }
    page3, next3, err := m.ListGeofences(ctx, "t1", next2, 2)
    if err != nil || len(page3) != 1 || next3 != "" {
        t.Fatalf("page3: %v %d %q", err, len(page3), next3)
    }
    if page1[0].ID == page2[0].ID {
        t.Fatalf("pages overlap")
    }
}

func TestMemoryEventFilters(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    evts := []model.GeofenceEvent{
        {ID: "e1", TenantID: "t1", GeofenceID: "g1", DriverID: "d1", Type: model.EventEnter},
        {ID: "e2", TenantID: "t1", GeofenceID: "g1", DriverID: "d1", Type: model.EventExit},
        {ID: "e3", TenantID: "t1", GeofenceID: "g2", DriverID: "d2", Type: model.EventEnter},
    }
    for _, e := range evts {
        if err := m.InsertGeofenceEvent(ctx, e); err != nil {
            t.Fatal(err)
        }
    }

    got, _, err := m.ListGeofenceEvents(ctx, "t1", model.EventQuery{DriverID: "d1"}, "", 10)
    if err != nil || len(got) != 2 {
        t.Fatalf("driver filter: %v %d", err, len(got))
    }
    got, _, _ = m.ListGeofenceEvents(ctx, "t1", model.EventQuery{Type: model.EventEnter}, "", 10)
    if len(got) != 2 {
        t.Fatalf("type filter: %d", len(got))
    }
    got, _, _ = m.ListGeofenceEvents(ctx, "t1", model.EventQuery{GeofenceID: "g2"}, "", 10)
    if len(got) != 1 || got[0].ID != "e3" {
        t.Fatalf("geofence filter: %+v", got)
    }
    got, _, _ = m.ListGeofenceEvents(ctx, "t2", model.EventQuery{}, "", 10)
    if len(got) != 0 {
        t.Fatalf("tenant isolation: %d", len(got))
    }

    // cursor resumes after the given id
    got, next, _ := m.ListGeofenceEvents(ctx, "t1", model.EventQuery{}, "", 2)
    if len(got) != 2 || next != "e2" {
        t.Fatalf("first page: %d %q", len(got), next)
    }
    got, next, _ = m.ListGeofenceEvents(ctx, "t1", model.EventQuery{}, next, 2)
    if len(got) != 1 || got[0].ID != "e3" || next != "" {
        t.Fatalf("second page: %+v %q", got, next)
    }
}

func TestMemorySubscriptionsForEvent(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    s1, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{"geofence.entered"}})
    m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{"geofence.exited"}})
    m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t2", URL: "http://c", Events: []string{"geofence.entered"}})

    subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "geofence.entered")
    if err != nil || len(subs) != 1 || subs[0].ID != s1.ID {
        t.Fatalf("match: %v %+v", err, subs)
    }
    if err := m.DeleteSubscription(ctx, "t1", s1.ID); err != nil {
        t.Fatal(err)
    }
    subs, _ = m.GetSubscriptionsForEvent(ctx, "t1", "geofence.entered")
    if len(subs) != 0 {
        t.Fatalf("deleted subscription still matched")
    }
}

func TestMemoryWebhookQueue(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    id, err := m.EnqueueWebhook(ctx, "t1", "sub1", "geofence.entered", "http://x", "sec", []byte(`{}`))
    if err != nil {
        t.Fatal(err)
    }
    due, err := m.FetchDueWebhookDeliveries(ctx, 10)
    if err != nil || len(due) != 1 || due[0].ID != id {
        t.Fatalf("due: %v %+v", err, due)
    }

    // retry pushes the next attempt into the future
    next := time.Now().Add(time.Hour)
    if err := m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 12); err != nil {
        t.Fatal(err)
    }
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 0 {
        t.Fatalf("backed-off delivery still due")
    }

    // admin retry makes it due again
    if err := m.RetryWebhookDelivery(ctx, "t1", id); err != nil {
        t.Fatal(err)
    }
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 1 || due[0].Attempts != 1 {
        t.Fatalf("after retry: %+v", due)
    }

    if err := m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 8); err != nil {
        t.Fatal(err)
    }
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 0 {
        t.Fatalf("delivered webhook still due")
    }
    items, _, err := m.ListWebhookDeliveries(ctx, "t1", "delivered", "", 10)
    if err != nil || len(items) != 1 {
        t.Fatalf("list delivered: %v %d", err, len(items))
    }
}

func TestMemoryFailDeliveryCountsAttempt(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    id, err := m.EnqueueWebhook(ctx, "t1", "sub1", "geofence.entered", "http://x", "sec", []byte(`{}`))
    if err != nil {
        t.Fatal(err)
    }
    next := time.Now()
    if err := m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 12); err != nil {
        t.Fatal(err)
    }
    // the terminal attempt counts too
    if err := m.FailWebhookDelivery(ctx, id, "boom", 500, 9); err != nil {
        t.Fatal(err)
    }
    items, _, err := m.ListWebhookDeliveries(ctx, "t1", "failed", "", 10)
    if err != nil || len(items) != 1 {
        t.Fatalf("list failed: %v %d", err, len(items))
    }
    if items[0]["attempts"] != 2 {
        t.Fatalf("attempts = %v, want 2", items[0]["attempts"])
    }
}
