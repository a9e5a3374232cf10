// Package auth validates bearer tokens and extracts the caller principal.
package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "encoding/json"
    "errors"
    "os"
    "strings"
)

// Verifier checks bearer tokens. Two modes: "dev" accepts tenant:role tokens
// without verification, "hmac" verifies HS256 JWTs against a shared secret.
type Verifier struct {
    Mode        string
    HMACSecret  []byte
    TenantClaim string
    RoleClaim   string
    DriverClaim string
}

// Principal is the authenticated caller: the tenant it acts for, its role,
// and the driver identity when the token belongs to a driver device.
type Principal struct {
    Tenant   string
    Role     string
    DriverID string
}

func NewVerifierFromEnv() *Verifier {
    mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
    if mode == "" {
        mode = "dev"
    }
    return &Verifier{
        Mode:        mode,
        HMACSecret:  []byte(os.Getenv("AUTH_HMAC_SECRET")),
        TenantClaim: envOr("AUTH_TENANT_CLAIM", "tenant"),
        RoleClaim:   envOr("AUTH_ROLE_CLAIM", "role"),
        DriverClaim: envOr("AUTH_DRIVER_CLAIM", "sub"),
    }
}

func envOr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
    if v.Mode == "dev" {
        // token format: tenant:role
        parts := strings.Split(token, ":")
        if len(parts) >= 2 {
            return Principal{Tenant: parts[0], Role: parts[1]}, nil
        }
        return Principal{}, errors.New("invalid dev token; expected tenant:role")
    }
    if v.Mode != "hmac" {
        return Principal{}, errors.New("unsupported auth mode")
    }
    segs := strings.Split(token, ".")
    if len(segs) != 3 {
        return Principal{}, errors.New("invalid JWT")
    }
    headerJSON, err := b64urlDecode(segs[0])
    if err != nil {
        return Principal{}, err
    }
    payloadJSON, err := b64urlDecode(segs[1])
    if err != nil {
        return Principal{}, err
    }
    sig, err := b64urlDecode(segs[2])
    if err != nil {
        return Principal{}, err
    }
    var hdr map[string]any
    if err := json.Unmarshal(headerJSON, &hdr); err != nil {
        return Principal{}, err
    }
    if alg, _ := hdr["alg"].(string); alg != "HS256" {
        return Principal{}, errors.New("unsupported alg for hmac")
    }
    mac := hmac.New(sha256.New, v.HMACSecret)
    mac.Write([]byte(segs[0] + "." + segs[1]))
    if !hmac.Equal(mac.Sum(nil), sig) {
        return Principal{}, errors.New("bad signature")
    }
    var claims map[string]any
    if err := json.Unmarshal(payloadJSON, &claims); err != nil {
        return Principal{}, err
    }
    tenant, _ := claims[v.TenantClaim].(string)
    role, _ := claims[v.RoleClaim].(string)
    driver, _ := claims[v.DriverClaim].(string)
    if tenant == "" {
        return Principal{}, errors.New("missing tenant claim")
    }
    if role == "" {
        role = "user"
    }
    return Principal{Tenant: tenant, Role: strings.ToLower(role), DriverID: driver}, nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
