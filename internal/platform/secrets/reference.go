package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reference is a parsed secret:// URI, for example
// secret://orders_webhook_hmac?version=4&project=shop-prod.
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference accepts secret:// and the legacy sm:// scheme.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return Reference{}, fmt.Errorf("secrets: invalid secret name in %q", raw)
	}
	query := u.Query()
	ref := Reference{
		Name:    name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}
	if ref.Version == "" {
		ref.Version = "latest"
	}
	return ref, nil
}

// URI renders the reference without the project override.
func (r Reference) URI() string {
	return "secret://" + r.Name
}

// key identifies one version of a secret in caches and the fallback file.
func (r Reference) key() string {
	return r.URI() + "#" + r.Version
}

func (r Reference) resource(project string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, r.Version)
}
