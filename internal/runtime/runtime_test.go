package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/profile"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadProfilesBuiltin(t *testing.T) {
	set, err := LoadProfiles(config.Default().STT)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := set.Get(profile.BatchName); !ok {
		t.Fatal("expected builtin batch profile")
	}
}

func TestLoadProfilesMissingDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	data := []byte("profiles:\n  meetings:\n    options:\n      language: en\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	cfg := config.STTConfig{ProfilesPath: path, DefaultProfile: "studio"}
	if _, err := LoadProfiles(cfg); !errors.Is(err, profile.ErrUnknownProfile) {
		t.Fatalf("expected unknown default profile, got %v", err)
	}
	cfg.DefaultProfile = "meetings"
	if _, err := LoadProfiles(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandleProfiles(t *testing.T) {
	rt := New(config.Default(), newLogger())
	rt.profiles = profile.Builtin()

	rec := httptest.NewRecorder()
	rt.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var views []profileView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode profiles: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(views))
	}
	for _, v := range views {
		if v.Options["beam_size"] != 5.0 {
			t.Fatalf("profile %s missing options: %v", v.Name, v.Options)
		}
	}
}

func TestReadyBeforeStart(t *testing.T) {
	rt := New(config.Default(), newLogger())
	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", rec.Code)
	}
}
