package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists the fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names. Unparseable values are reported by environment key.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

func validate(cfg Config, unparsed []string) error {
	fields := append([]string(nil), unparsed...)
	require := func(ok bool, field string) {
		if !ok && !slices.Contains(fields, field) {
			fields = append(fields, field)
		}
	}
	oneOf := func(value string, field string, allowed ...string) {
		require(slices.Contains(allowed, value), field)
	}
	blank := func(value string) bool { return strings.TrimSpace(value) == "" }

	require(!blank(cfg.Server.Port), "Server.Port")
	require(!blank(cfg.Firebase.ProjectID), "Firebase.ProjectID")

	oneOf(cfg.Store.Backend, "Store.Backend", "firestore", "memory")
	oneOf(cfg.Selection.Backend, "Selection.Backend", "memory", "redis", "firestore")
	if cfg.Selection.Backend == "redis" {
		require(!blank(cfg.Redis.Addr), "Redis.Addr")
	}
	require(!blank(cfg.Selection.KeyPrefix), "Selection.KeyPrefix")
	require(cfg.Selection.TTL > 0, "Selection.TTL")

	oneOf(cfg.Tax.Source, "Tax.Source", "firestore", "file", "none")
	if cfg.Tax.Source == "file" {
		require(!blank(cfg.Tax.FilePath), "Tax.FilePath")
	}

	oneOf(cfg.Events.Backend, "Events.Backend", "none", "pubsub", "kafka")
	if cfg.Events.Backend != "none" {
		require(!blank(cfg.Events.Topic), "Events.Topic")
	}
	if cfg.Events.Backend == "kafka" {
		require(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
	}

	if cfg.UsesFirestore() {
		require(!blank(cfg.Firestore.ProjectID), "Firestore.ProjectID")
	}
	require(!blank(cfg.Checkout.SessionHeader) || !blank(cfg.Checkout.SessionCookie), "Checkout.SessionHeader")
	require(cfg.Checkout.ToggleLimit >= 0, "Checkout.ToggleLimit")

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{fields: fields}
}
