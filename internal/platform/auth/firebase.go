package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/simplecartfees/api/internal/platform/config"
)

// idTokenClient is the part of the Admin SDK auth client the verifier calls.
type idTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies admin ID tokens with the Firebase Admin SDK.
type FirebaseVerifier struct {
	client       idTokenClient
	timeout      time.Duration
	checkRevoked bool
}

var _ TokenVerifier = (*FirebaseVerifier)(nil)

// FirebaseOption customises a FirebaseVerifier.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout bounds each Admin SDK call.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithRevocationCheck also consults the user record so revoked sessions are refused. It costs one
// extra Admin SDK round trip per request.
func WithRevocationCheck(enabled bool) FirebaseOption {
	return func(v *FirebaseVerifier) {
		v.checkRevoked = enabled
	}
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID. The SDK honours
// FIREBASE_AUTH_EMULATOR_HOST on its own.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, opts...), nil
}

func newFirebaseVerifier(client idTokenClient, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyIDToken checks idToken and maps SDK failures onto ErrTokenExpired, ErrTokenRevoked and
// ErrTokenInvalid.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	verify := v.client.VerifyIDToken
	if v.checkRevoked {
		verify = v.client.VerifyIDTokenAndCheckRevoked
	}
	token, err := verify(ctx, idToken)
	switch {
	case err == nil:
		return token, nil
	case firebaseauth.IsIDTokenExpired(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenRevoked(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	case firebaseauth.IsIDTokenInvalid(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return nil, err
	}
}
