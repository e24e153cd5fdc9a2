package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.RequestTimeout != 5*time.Second {
		t.Fatalf("request timeout = %v", cfg.Store.RequestTimeout)
	}
	if cfg.Server.Addr() != "localhost:8080" {
		t.Fatalf("addr = %s", cfg.Server.Addr())
	}
}

func TestLoad_Overlay(t *testing.T) {
	t.Setenv("FASTKV_TEST_DIR", "/var/lib/fastkv")

	path := writeConfig(t, `
store:
  capacity: 500
  eviction_policy: 2q
  request_timeout: 2s
  sweep_interval: 250ms
server:
  port: 9090
persistence:
  path: ${FASTKV_TEST_DIR}/snap.json
  schedule: "@every 1m"
logger:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Capacity != 500 || cfg.Store.RequestTimeout != 2*time.Second || cfg.Store.SweepInterval != 250*time.Millisecond {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Host != "localhost" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Persistence.Path != "/var/lib/fastkv/snap.json" {
		t.Fatalf("path = %q", cfg.Persistence.Path)
	}
	if cfg.Logger.Format != "json" || cfg.Logger.Output != "stdout" {
		t.Fatalf("logger = %+v", cfg.Logger)
	}

	opt := cfg.Store.Options()
	if opt.Capacity != 500 || opt.Policy == nil {
		t.Fatalf("options = %+v", opt)
	}
	if tr := opt.Policy.New(opt.Capacity); tr == nil {
		t.Fatal("policy must build a tracker")
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"zero capacity": "store:\n  capacity: 0\n",
		"bad policy":    "store:\n  eviction_policy: lfu\n",
		"bad port":      "server:\n  port: 70000\n",
		"no path":       "persistence:\n  enabled: true\n  path: \"\"\n",
		"bad level":     "logger:\n  level: loud\n",
		"file no name":  "logger:\n  output: file\n",
		"bucket range":  "store:\n  min_buckets: 4096\n  max_buckets: 1024\n",
		"bad yaml":      "store: [",
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
