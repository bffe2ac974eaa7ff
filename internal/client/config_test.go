package client

import (
	"testing"
	"time"
)

func Test_init_persists_and_preserves_created_at(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cfg, err := Init(dir, "https://edge.example.com/", now)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if cfg.Domain != "https://edge.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Domain)
	}

	later := now.Add(24 * time.Hour)
	cfg2, err := Init(dir, "https://edge.example.com", later)
	if err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	if cfg2.CreatedAt != cfg.CreatedAt {
		t.Errorf("expected createdAt to survive re-init: got %q, want %q", cfg2.CreatedAt, cfg.CreatedAt)
	}
	if cfg2.UpdatedAt == cfg.UpdatedAt {
		t.Errorf("expected updatedAt to change on re-init")
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if loaded.Domain != cfg2.Domain {
		t.Errorf("loaded config mismatch: got %q, want %q", loaded.Domain, cfg2.Domain)
	}
}

func Test_init_rejects_url_without_scheme(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir, "edge.example.com", time.Now()); err == nil {
		t.Fatal("expected an error for a url missing http(s)://")
	}
}

func Test_load_config_missing_file_returns_nil(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config for an unconfigured directory, got %+v", cfg)
	}
}

func Test_status_round_trip(t *testing.T) {
	dir := t.TempDir()
	st := &StatusFile{Connected: true, ConnectedAt: time.Now().UTC().Format(time.RFC3339), Port: 8080, Domain: "https://edge.example.com"}
	if err := SaveStatus(dir, st); err != nil {
		t.Fatalf("saving status: %v", err)
	}

	loaded, err := LoadStatus(dir)
	if err != nil {
		t.Fatalf("loading status: %v", err)
	}
	if !loaded.Connected || loaded.Port != 8080 {
		t.Errorf("status mismatch: %+v", loaded)
	}

	if err := ClearStatus(dir); err != nil {
		t.Fatalf("clearing status: %v", err)
	}
	cleared, err := LoadStatus(dir)
	if err != nil {
		t.Fatalf("loading cleared status: %v", err)
	}
	if cleared.Connected {
		t.Error("expected status to report disconnected after clearing")
	}
}
