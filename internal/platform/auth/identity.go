package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the verified operator behind an admin request.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	AuthTime time.Time

	token *firebaseauth.Token
}

// identityFromToken reads the email, auth time and roles out of a verified token. fallback is used
// when the role claim is absent or empty.
func identityFromToken(token *firebaseauth.Token, roleClaim, fallback string) *Identity {
	identity := &Identity{
		UID:   strings.TrimSpace(token.UID),
		Email: stringClaim(token.Claims, "email"),
		Roles: rolesFromClaims(token.Claims, roleClaim),
		token: token,
	}
	if token.AuthTime > 0 {
		identity.AuthTime = time.Unix(token.AuthTime, 0).UTC()
	}
	if len(identity.Roles) == 0 && fallback != "" {
		identity.Roles = []string{fallback}
	}
	return identity
}

// Token returns the decoded ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Actor names the identity in fee revision audit fields.
func (i *Identity) Actor() string {
	if i == nil {
		return ""
	}
	return i.UID
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	return i != nil && role != "" && slices.Contains(i.Roles, role)
}

// rolesFromClaims accepts a single role string, a list of roles, or a map of role flags. The result
// is normalised and free of duplicates.
func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for role, flag := range v {
			if on, _ := flag.(bool); on {
				raw = append(raw, role)
			}
		}
	}

	roles := make([]string, 0, len(raw))
	for _, candidate := range raw {
		if role := normaliseRole(candidate); role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

type identityKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the bearer middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
