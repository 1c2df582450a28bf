package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/mushchat/pkg/platform"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func metricValue(e *Engine, result string) float64 {
	return testutil.ToFloat64(e.Metrics().configReloads.WithLabelValues(result))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatchConfigReloads(t *testing.T) {
	path := writeConfig(t, testConfig)
	e, err := LoadEngine(path, Options{Roster: platform.NewMemoryRoster()})
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.WatchConfig(ctx); err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}

	// Editing the channel file is enough.
	staff := filepath.Join(filepath.Dir(path), "staff.yaml")
	extra := testStaffChannels + "  - name: trade\n    display_prefix: \"[T]\"\n    shortcut: t\n"
	if err := os.WriteFile(staff, []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "trade channel", func() bool {
		_, ok := e.Registry().ByName("trade")
		return ok
	})

	// Files that are not part of the config are ignored.
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A broken save keeps the running channels.
	if err := os.WriteFile(path, []byte("channels: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failed reload", func() bool {
		return metricValue(e, "error") >= 1
	})
	if e.Registry().Len() != 4 {
		t.Errorf("channels after broken save = %d, want 4", e.Registry().Len())
	}

	fixed := strings.Replace(testConfig, "default_channel: global", "default_channel: local", 1)
	if err := os.WriteFile(path, []byte(fixed), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "default channel change", func() bool {
		cfg, ok := e.Registry().Default()
		return ok && cfg.Name == "local"
	})
}

func TestWatchConfigStopsOnCancel(t *testing.T) {
	path := writeConfig(t, testConfig)
	e, err := LoadEngine(path, Options{Roster: platform.NewMemoryRoster()})
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.WatchConfig(ctx); err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	before := metricValue(e, "ok")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDelay)
	if got := metricValue(e, "ok"); got != before {
		t.Errorf("reloaded after cancel: ok reloads %v -> %v", before, got)
	}
}
