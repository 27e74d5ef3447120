// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_Reload(t *testing.T) {
	path := writeTempConfig(t, "separator:\n  gate_mode: pass\n")

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// An invalid edit is ignored.
	if err := os.WriteFile(path, []byte("separator:\n  gate_mode: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c.Separator)
	case <-time.After(4 * reloadDelay):
	}

	if err := os.WriteFile(path, []byte("separator:\n  gate_mode: tonal\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.Separator.GateMode != "tonal" {
			t.Errorf("reloaded gate mode = %q, want tonal", c.Separator.GateMode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after a valid edit")
	}

	// Other files in the directory do not trigger reloads.
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Errorf("unrelated file triggered a reload: %+v", c.Separator)
	case <-time.After(4 * reloadDelay):
	}
}

func TestWatch_Cancel(t *testing.T) {
	path := writeTempConfig(t, "debug: true\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Watch(ctx, path, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Watch = %v, want context.Canceled", err)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	if _, err := NewWatcher("", nil); err == nil {
		t.Error("expected error for empty path")
	}
	missing := filepath.Join(t.TempDir(), "missing", "config.yaml")
	if _, err := NewWatcher(missing, nil); err == nil {
		t.Error("expected error for missing directory")
	}
}
