package main

import (
	"testing"
	"time"

	"github.com/simplecartfees/api/internal/platform/config"
)

func TestProjectMapSkipsMalformedPairs(t *testing.T) {
	got := projectMap(" Prod=cartfees-prod , staging = cartfees-stg ,broken,=orphan,dev=")
	if len(got) != 2 || got["prod"] != "cartfees-prod" || got["staging"] != "cartfees-stg" {
		t.Fatalf("unexpected project map %v", got)
	}
}

func TestBuildInfoDefaults(t *testing.T) {
	started := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	info := buildInfo(map[string]string{"CARTFEES_BUILD_VERSION": " 1.8.0 "}, config.Config{}, started)
	if info.Version != "1.8.0" || info.CommitSHA != "unknown" || info.Environment != "local" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestTraceProjectPrefersFirebase(t *testing.T) {
	var cfg config.Config
	cfg.Firestore.ProjectID = "store-project"
	if got := traceProjectID(cfg); got != "store-project" {
		t.Fatalf("expected firestore project fallback, got %q", got)
	}
	cfg.Firebase.ProjectID = "auth-project"
	if got := traceProjectID(cfg); got != "auth-project" {
		t.Fatalf("expected firebase project, got %q", got)
	}
}
