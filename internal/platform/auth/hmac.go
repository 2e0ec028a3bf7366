package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	maxSignedBodyBytes = 1 << 20
)

// SecretProvider resolves the shared secret for a signing scope such as "orders". The value may
// list several keys separated by commas and any of them verifies, so keys rotate without downtime.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to SecretProvider.
type SecretProviderFunc func(context.Context, string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// signingPolicy is what HMACOption adjusts: header names and the accepted time window.
type signingPolicy struct {
	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACValidator verifies requests signed by the shop platform: order webhooks and the email
// fee-line lookups. The signature covers the method, escaped path, timestamp, nonce and body
// digest, and each nonce is accepted once per scope.
type HMACValidator struct {
	signingPolicy
	provider SecretProvider
	nonces   NonceStore
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

// HMACOption customises HMACValidator.
type HMACOption func(*HMACValidator)

// NewHMACValidator reads secrets from provider and spends nonces in nonces.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		signingPolicy: signingPolicy{
			signatureHeader: defaultSignatureHeader,
			timestampHeader: defaultTimestampHeader,
			nonceHeader:     defaultNonceHeader,
			clockSkew:       5 * time.Minute,
			nonceTTL:        5 * time.Minute,
		},
		provider: provider,
		nonces:   nonces,
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithHMACLogger receives secret and nonce store failures.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) { v.metrics = metrics }
}

func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders renames the signature, timestamp and nonce headers. Blank names keep the default.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		for target, name := range map[*string]string{
			&v.signatureHeader: signature,
			&v.timestampHeader: timestamp,
			&v.nonceHeader:     nonce,
		} {
			if name = strings.TrimSpace(name); name != "" {
				*target = name
			}
		}
	}
}

// WithHMACClockSkew bounds the drift between the signed timestamp and the local clock.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL sets how long a nonce stays spent after its timestamp.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes a verified request.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
	// KeyIndex is the position of the matching key in the rotated secret list.
	KeyIndex int
}

type hmacContextKey struct{}

func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext returns the metadata stored by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// hmacRejection is the response for a failed verification plus the reason recorded in metrics.
type hmacRejection struct {
	status  int
	code    string
	message string
	reason  string
}

func unauthorized(code, message string) *hmacRejection {
	return &hmacRejection{status: http.StatusUnauthorized, code: code, message: message, reason: code}
}

func unavailable(reason, message string) *hmacRejection {
	return &hmacRejection{status: http.StatusServiceUnavailable, code: "verification_unavailable", message: message, reason: reason}
}

// RequireHMAC admits only requests signed with a key from the secret named secretName.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	scope := strings.TrimSpace(secretName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			meta, rejection := v.verify(r, scope)
			if rejection != nil {
				v.record(r.Context(), false, rejection.reason, start)
				respondAuthError(w, r, rejection.status, rejection.code, rejection.message)
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(r.Context(), meta)))
		})
	}
}

// signedParts are the signature inputs carried by the request headers.
type signedParts struct {
	signature    []byte
	rawTimestamp string
	signedAt     time.Time
	nonce        string
}

// readHeaders checks presence before format so callers learn which header is missing.
func (v *HMACValidator) readHeaders(h http.Header, now time.Time) (signedParts, *hmacRejection) {
	var parts signedParts
	rawSignature := strings.TrimSpace(h.Get(v.signatureHeader))
	if rawSignature == "" {
		return parts, unauthorized("signature_missing", "signature header missing")
	}
	if parts.rawTimestamp = strings.TrimSpace(h.Get(v.timestampHeader)); parts.rawTimestamp == "" {
		return parts, unauthorized("timestamp_missing", "signature timestamp missing")
	}
	signedAt, err := parseSignatureTimestamp(parts.rawTimestamp)
	if err != nil {
		return parts, unauthorized("timestamp_invalid", "signature timestamp invalid")
	}
	if drift := now.Sub(signedAt); drift > v.clockSkew || drift < -v.clockSkew {
		return parts, unauthorized("timestamp_skew", "signature timestamp outside allowed window")
	}
	parts.signedAt = signedAt
	if parts.nonce = strings.TrimSpace(h.Get(v.nonceHeader)); parts.nonce == "" {
		return parts, unauthorized("nonce_missing", "signature nonce missing")
	}
	if parts.signature, err = decodeSignature(rawSignature); err != nil {
		return parts, unauthorized("signature_invalid", "signature encoding invalid")
	}
	return parts, nil
}

func (v *HMACValidator) verify(r *http.Request, scope string) (*HMACMetadata, *hmacRejection) {
	ctx := r.Context()
	if scope == "" {
		return nil, unavailable("secret_not_configured", "hmac secret not configured")
	}
	keys, err := v.keys(ctx, scope)
	if err != nil {
		v.logf("auth: hmac secret %q lookup failed: %v", scope, err)
		return nil, unavailable("secret_unavailable", "hmac secret unavailable")
	}

	now := v.now()
	parts, rejection := v.readHeaders(r.Header, now)
	if rejection != nil {
		return nil, rejection
	}
	body, err := bufferBody(r)
	if err != nil {
		return nil, &hmacRejection{status: http.StatusBadRequest, code: "invalid_body", message: "unable to read body for signature verification", reason: "invalid_body"}
	}

	message := canonicalRequest(r.Method, r.URL.EscapedPath(), body, parts.rawTimestamp, parts.nonce)
	keyIndex := matchingKey(keys, message, parts.signature)
	if keyIndex < 0 {
		return nil, unauthorized("signature_mismatch", "signature verification failed")
	}

	// Only correctly signed requests spend a nonce.
	if v.nonces == nil {
		return nil, unavailable("nonce_store_unavailable", "nonce store unavailable")
	}
	expiry := parts.signedAt.Add(v.nonceTTL)
	if !expiry.After(now) {
		expiry = now.Add(v.nonceTTL)
	}
	fresh, err := v.nonces.UseNonce(ctx, scope, parts.nonce, expiry)
	switch {
	case err != nil:
		v.logf("auth: nonce store error for %q: %v", scope, err)
		return nil, unavailable("nonce_store_error", "nonce storage error")
	case !fresh:
		return nil, unauthorized("nonce_replay", "duplicate signature nonce")
	}
	return &HMACMetadata{SecretName: scope, Timestamp: parts.signedAt, Nonce: parts.nonce, KeyIndex: keyIndex}, nil
}

// keys splits the stored secret into its rotated keys, newest first.
func (v *HMACValidator) keys(ctx context.Context, scope string) ([][]byte, error) {
	if v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	raw, err := v.provider.GetSecret(ctx, scope)
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, []byte(part))
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("auth: secret is empty")
	}
	return keys, nil
}

func matchingKey(keys [][]byte, message, signature []byte) int {
	for i, key := range keys {
		if hmac.Equal(signature, computeHMAC(key, message)) {
			return i
		}
	}
	return -1
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
	}
}

func (v *HMACValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

// bufferBody reads the body for hashing and restores it for the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
	switch {
	case err != nil:
		return nil, err
	case len(body) > maxSignedBodyBytes:
		return nil, errors.New("auth: signed body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// decodeSignature accepts base64, which Sign emits, or hex.
func decodeSignature(value string) ([]byte, error) {
	for _, decode := range []func(string) ([]byte, error){base64.StdEncoding.DecodeString, hex.DecodeString} {
		if decoded, err := decode(value); err == nil && len(decoded) > 0 {
			return decoded, nil
		}
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseSignatureTimestamp accepts unix seconds or RFC 3339.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func canonicalRequest(method, path string, body []byte, timestamp, nonce string) []byte {
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{strings.ToUpper(method), path, timestamp, nonce, hex.EncodeToString(digest[:])}, "\n"))
}

// Sign returns the base64 signature a caller sends for the given request parts.
func Sign(secret []byte, method, path string, body []byte, timestamp, nonce string) string {
	return base64.StdEncoding.EncodeToString(computeHMAC(secret, canonicalRequest(method, path, body, timestamp, nonce)))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
