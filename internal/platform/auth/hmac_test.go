package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const ordersPath = "/api/v1/webhooks/orders"

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

type recordingMetrics struct {
	mu      sync.Mutex
	records []verificationRecord
}

func (m *recordingMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

func (m *recordingMetrics) last() verificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return verificationRecord{}
	}
	return m.records[len(m.records)-1]
}

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := s[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

// shopSigner produces requests the way the shop platform signs them.
type shopSigner struct {
	key string
	at  time.Time
}

func (s shopSigner) request(body, nonce string) *http.Request {
	ts := strconv.FormatInt(s.at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, ordersPath, strings.NewReader(body))
	req.Header.Set(defaultSignatureHeader, Sign([]byte(s.key), http.MethodPost, ordersPath, []byte(body), ts, nonce))
	req.Header.Set(defaultTimestampHeader, ts)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

var signedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func ordersValidator(secret string, metrics MetricsRecorder) *HMACValidator {
	clock := func() time.Time { return signedAt }
	return NewHMACValidator(staticSecrets{"orders": secret},
		NewInMemoryNonceStore(WithNonceClock(clock)),
		WithHMACLogger(discardLogger{}),
		WithHMACClock(clock),
		WithHMACMetrics(metrics),
	)
}

func TestRequireHMACPassesVerifiedRequest(t *testing.T) {
	metrics := &recordingMetrics{}
	body := `{"order_id":"1001","session_id":"sess-1","subtotal":"60.00"}`

	var seen HMACMetadata
	var decoded map[string]string
	rr := httptest.NewRecorder()
	ordersValidator("orders-secret", metrics).RequireHMAC("orders")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if ok {
			seen = *meta
		}
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, shopSigner{key: "orders-secret", at: signedAt}.request(body, "nonce-123"))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.SecretName != "orders" || seen.Nonce != "nonce-123" || !seen.Timestamp.Equal(signedAt) {
		t.Fatalf("unexpected metadata %+v", seen)
	}
	if decoded["order_id"] != "1001" {
		t.Fatalf("body should be readable downstream, got %v", decoded)
	}
	if rec := metrics.last(); rec != (verificationRecord{kind: "hmac", success: true, reason: "ok"}) {
		t.Fatalf("unexpected metric %+v", rec)
	}
}

func TestRequireHMACRejections(t *testing.T) {
	signer := shopSigner{key: "orders-secret", at: signedAt}
	cases := []struct {
		name   string
		secret string
		scope  string
		build  func() *http.Request
		status int
		code   string
	}{
		{
			name: "body changed after signing",
			build: func() *http.Request {
				req := signer.request(`{"subtotal":"60"}`, "n1")
				req.Body = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"subtotal":"6"}`)).Body
				return req
			},
			status: http.StatusUnauthorized, code: "signature_mismatch",
		},
		{
			name:   "unknown key",
			build:  func() *http.Request { return shopSigner{key: "other", at: signedAt}.request(`{}`, "n2") },
			status: http.StatusUnauthorized, code: "signature_mismatch",
		},
		{
			name:   "stale timestamp",
			build:  func() *http.Request { return shopSigner{key: "orders-secret", at: signedAt.Add(-10 * time.Minute)}.request(`{}`, "n3") },
			status: http.StatusUnauthorized, code: "timestamp_skew",
		},
		{
			name: "unparseable timestamp",
			build: func() *http.Request {
				req := signer.request(`{}`, "n4")
				req.Header.Set(defaultTimestampHeader, "yesterday")
				return req
			},
			status: http.StatusUnauthorized, code: "timestamp_invalid",
		},
		{
			name: "nonce missing",
			build: func() *http.Request {
				req := signer.request(`{}`, "n5")
				req.Header.Del(defaultNonceHeader)
				return req
			},
			status: http.StatusUnauthorized, code: "nonce_missing",
		},
		{
			name: "signature missing",
			build: func() *http.Request {
				req := signer.request(`{}`, "n6")
				req.Header.Del(defaultSignatureHeader)
				return req
			},
			status: http.StatusUnauthorized, code: "signature_missing",
		},
		{
			name: "signature not encoded",
			build: func() *http.Request {
				req := signer.request(`{}`, "n7")
				req.Header.Set(defaultSignatureHeader, "%%%")
				return req
			},
			status: http.StatusUnauthorized, code: "signature_invalid",
		},
		{
			name:   "body too large",
			build:  func() *http.Request { return signer.request(strings.Repeat("x", maxSignedBodyBytes+1), "n8") },
			status: http.StatusBadRequest, code: "invalid_body",
		},
		{
			name:   "empty secret",
			secret: " , ",
			build:  func() *http.Request { return signer.request(`{}`, "n9") },
			status: http.StatusServiceUnavailable, code: "verification_unavailable",
		},
		{
			name:   "no scope",
			scope:  " ",
			build:  func() *http.Request { return signer.request(`{}`, "n10") },
			status: http.StatusServiceUnavailable, code: "verification_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			secret, scope := tc.secret, tc.scope
			if secret == "" {
				secret = "orders-secret"
			}
			if scope == "" {
				scope = "orders"
			}
			metrics := &recordingMetrics{}
			rr := httptest.NewRecorder()
			ordersValidator(secret, metrics).RequireHMAC(scope)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			})).ServeHTTP(rr, tc.build())

			if rr.Code != tc.status || errorCode(t, rr) != tc.code {
				t.Fatalf("got %d %s, want %d %s", rr.Code, rr.Body.String(), tc.status, tc.code)
			}
			if rec := metrics.last(); rec.success || rec.kind != "hmac" {
				t.Fatalf("expected a failed hmac metric, got %+v", rec)
			}
		})
	}
}

func TestRequireHMACNonceIsSingleUse(t *testing.T) {
	signer := shopSigner{key: "orders-secret", at: signedAt}
	handler := ordersValidator("orders-secret", nil).RequireHMAC("orders")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for range 2 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, signer.request(`{"order_id":"1"}`, "nonce-replay"))
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusUnauthorized && errorCode(t, rr) != "nonce_replay" {
			t.Fatalf("expected nonce_replay, got %s", rr.Body.String())
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusUnauthorized {
		t.Fatalf("expected 200 then 401, got %v", codes)
	}
}

func TestRequireHMACSecretLookupFailure(t *testing.T) {
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("secret manager unavailable")
	})
	rr := httptest.NewRecorder()
	NewHMACValidator(provider, NewInMemoryNonceStore(), WithHMACLogger(discardLogger{})).
		RequireHMAC("orders")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatalf("handler must not run")
		})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, ordersPath, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRequireHMACKeyRotation(t *testing.T) {
	var keyIndex int
	handler := ordersValidator("new-secret, old-secret", nil).RequireHMAC("orders")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ := HMACMetadataFromContext(r.Context())
		keyIndex = meta.KeyIndex
		w.WriteHeader(http.StatusNoContent)
	}))

	for key, want := range map[string]int{"new-secret": 0, "old-secret": 1} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, shopSigner{key: key, at: signedAt}.request(`{}`, "rot-"+key))
		if rr.Code != http.StatusNoContent || keyIndex != want {
			t.Fatalf("%s: got %d at index %d, want index %d", key, rr.Code, keyIndex, want)
		}
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, shopSigner{key: "retired-secret", at: signedAt}.request(`{}`, "rot-retired"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("retired key should fail, got %d", rr.Code)
	}
}

func TestSignatureEncodingsAndTimestamps(t *testing.T) {
	for _, value := range []string{"2025-01-02T03:04:05Z", "2025-01-02T03:04:05.123456789Z", "1735787045"} {
		if _, err := parseSignatureTimestamp(value); err != nil {
			t.Fatalf("%s: %v", value, err)
		}
	}
	if _, err := parseSignatureTimestamp("yesterday"); err == nil {
		t.Fatalf("expected an error for an unparseable timestamp")
	}
	if _, err := decodeSignature("deadbeef"); err != nil {
		t.Fatalf("hex signatures should decode: %v", err)
	}
	if _, err := decodeSignature("%%%"); err == nil {
		t.Fatalf("expected an error for an unencoded signature")
	}
}

func TestInMemoryNonceStore(t *testing.T) {
	now := signedAt
	store := NewInMemoryNonceStore(WithNonceClock(func() time.Time { return now }))
	ctx := context.Background()

	steps := []struct {
		scope, nonce string
		expiry       time.Time
		fresh        bool
	}{
		{"orders", "n", now.Add(time.Minute), true},
		{"orders", "n", now.Add(time.Minute), false},
		{"emails", "n", now.Add(time.Minute), true},
	}
	for i, step := range steps {
		fresh, err := store.UseNonce(ctx, step.scope, step.nonce, step.expiry)
		if err != nil || fresh != step.fresh {
			t.Fatalf("step %d: fresh=%v err=%v, want fresh=%v", i, fresh, err, step.fresh)
		}
	}
	if _, err := store.UseNonce(ctx, "orders", "old", now.Add(-time.Minute)); err == nil {
		t.Fatalf("expected an error for an expiry in the past")
	}

	now = now.Add(2 * time.Minute)
	if fresh, err := store.UseNonce(ctx, "orders", "n", now.Add(time.Minute)); err != nil || !fresh {
		t.Fatalf("expired nonce should be usable again, got %v %v", fresh, err)
	}
}
