package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired reports an ID token past its expiry.
	ErrTokenExpired = errors.New("auth: id token expired")
	// ErrTokenInvalid reports an ID token that failed verification.
	ErrTokenInvalid = errors.New("auth: id token invalid")
	// ErrTokenRevoked reports an ID token whose session was revoked.
	ErrTokenRevoked = errors.New("auth: id token revoked")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator guards the admin fee routes with Firebase bearer tokens.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
	maxAuthAge   time.Duration
	metrics      MetricsRecorder
	now          func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim reads roles from claim instead of "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole assigns role to tokens that carry no role claim.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		a.fallbackRole = normaliseRole(role)
	}
}

// WithVerificationTimeout bounds each verifier call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxAuthAge rejects tokens whose sign-in happened longer than d ago.
func WithMaxAuthAge(d time.Duration) Option {
	return func(a *Authenticator) {
		a.maxAuthAge = d
	}
}

// WithAuthMetrics records verification outcomes.
func WithAuthMetrics(metrics MetricsRecorder) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithAuthClock overrides the clock used for auth age checks and latency.
func WithAuthClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds an Authenticator around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		fallbackRole: RoleCustomer,
		timeout:      defaultVerifyTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

type authFailure struct {
	status  int
	code    string
	message string
}

func unauthenticated(code, message string) *authFailure {
	return &authFailure{status: http.StatusUnauthorized, code: code, message: message}
}

// RequireFirebaseAuth admits requests carrying a valid bearer token whose identity holds one of
// roles. No roles admits any verified identity. A verified identity without a matching role gets 403.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil || a.verifier == nil {
				respondAuthError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "token verification unavailable")
				return
			}
			start := a.now()

			identity, failure := a.authenticate(r)
			if failure == nil && len(required) > 0 && !hasAnyRole(identity, required) {
				failure = &authFailure{status: http.StatusForbidden, code: "insufficient_role", message: "identity does not have required role"}
			}
			if failure != nil {
				a.record(r.Context(), false, failure.code, start)
				respondAuthError(w, r, failure.status, failure.code, failure.message)
				return
			}

			a.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, *authFailure) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, unauthenticated("unauthenticated", "authorization header missing or invalid")
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, verificationFailure(err)
	}
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return nil, unauthenticated("invalid_token", "id token has no subject")
	}

	identity := identityFromToken(token, a.roleClaim, a.fallbackRole)
	if a.maxAuthAge > 0 && (identity.AuthTime.IsZero() || a.now().Sub(identity.AuthTime) > a.maxAuthAge) {
		return nil, unauthenticated("reauthentication_required", "sign in again to continue")
	}
	return identity, nil
}

func (a *Authenticator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordVerification(ctx, "firebase", success, reason, a.now().Sub(start))
}

func hasAnyRole(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func verificationFailure(err error) *authFailure {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return unauthenticated("token_expired", "id token expired")
	case errors.Is(err, ErrTokenRevoked), firebaseauth.IsIDTokenRevoked(err):
		return unauthenticated("token_revoked", "id token revoked")
	case errors.Is(err, context.DeadlineExceeded):
		return &authFailure{status: http.StatusServiceUnavailable, code: "verification_unavailable", message: "token verification timed out"}
	default:
		return unauthenticated("invalid_token", "id token invalid")
	}
}
