package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("config: missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing field names, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

// RedactedNames returns a short hash per missing field, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	sort.Strings(out)
	return out
}

// secretSet resolves secret fields and remembers the resolved values by field name.
type secretSet struct {
	resolver SecretResolver
	resolved map[string]string
}

func newSecretSet(resolver SecretResolver) *secretSet {
	return &secretSet{resolver: resolver, resolved: make(map[string]string)}
}

func (s *secretSet) resolve(ctx context.Context, field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if ref, ok := secretReference(value); ok {
		if s.resolver == nil {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}
		secret, err := s.resolver.ResolveSecret(ctx, ref)
		if err != nil {
			return "", &SecretError{Ref: ref, Err: err}
		}
		value = strings.TrimSpace(secret)
	}
	s.resolved[field] = value
	return value, nil
}

func (s *secretSet) missing(required []string) *MissingSecretsError {
	seen := make(map[string]bool)
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] || s.resolved[name] != "" {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return &MissingSecretsError{names: names}
}

// secretReference normalises the legacy sm:// scheme to secret://.
func secretReference(value string) (string, bool) {
	switch {
	case strings.HasPrefix(value, "secret://"):
		return value, true
	case strings.HasPrefix(value, "sm://"):
		return "secret://" + strings.TrimPrefix(value, "sm://"), true
	default:
		return "", false
	}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
