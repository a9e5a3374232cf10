package api

import (
    "encoding/json"
    "errors"
    "net/http"

    "zonewatch/internal/engine"
    "zonewatch/internal/registry"
    "zonewatch/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
    Type     string `json:"type"`
    Title    string `json:"title"`
    Status   int    `json:"status"`
    Detail   string `json:"detail,omitempty"`
    Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
    writeJSON(w, status, Problem{
        Type:     "about:blank",
        Title:    title,
        Status:   status,
        Detail:   detail,
        Instance: instance,
    })
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, err error, instance string) {
    switch {
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), instance)
    case errors.Is(err, engine.ErrInvalidFix):
        writeProblem(w, http.StatusBadRequest, "Invalid fix", err.Error(), instance)
    case errors.Is(err, engine.ErrBusy):
        writeProblem(w, http.StatusTooManyRequests, "Engine busy", err.Error(), instance)
    case errors.Is(err, registry.ErrStoreUnavailable):
        writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), instance)
    default:
        writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), instance)
    }
}
