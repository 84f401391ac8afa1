package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flightwatch/asterix/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
catalog_path: "/etc/asterix/categories"
rest_addr: "127.0.0.1:8080"
log_level: debug
health_addr: "127.0.0.1:9001"
dsn: "postgres://asterix@localhost/asterix"
queue_path: "/var/lib/asterixd/queue.db"
audit_path: "/var/lib/asterixd/audit.jsonl"
sources:
  - name: rwy-25l-radar
    type: udp
    target: "239.1.1.1:8600"
  - name: recorded-captures
    type: dir
    target: "/var/spool/asterix/captures"
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CatalogPath != "/etc/asterix/categories" {
		t.Errorf("CatalogPath = %q", cfg.CatalogPath)
	}
	if cfg.RESTAddr != "127.0.0.1:8080" {
		t.Errorf("RESTAddr = %q", cfg.RESTAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.HealthAddr != "127.0.0.1:9001" {
		t.Errorf("HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9001")
	}
	if cfg.WebSocketAddr != "127.0.0.1:8080" {
		t.Errorf("WebSocketAddr default = %q, want RESTAddr", cfg.WebSocketAddr)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].Name != "rwy-25l-radar" || cfg.Sources[0].Type != "udp" {
		t.Errorf("Sources[0] = %+v", cfg.Sources[0])
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	yaml := `
catalog_path: "/etc/asterix/categories"
rest_addr: "127.0.0.1:8080"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.HealthAddr != "127.0.0.1:9000" {
		t.Errorf("default HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9000")
	}
}

func TestLoadConfig_MissingCatalogPath(t *testing.T) {
	yaml := `
rest_addr: "127.0.0.1:8080"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing catalog_path, got nil")
	}
	if !strings.Contains(err.Error(), "catalog_path") {
		t.Errorf("error %q does not mention catalog_path", err.Error())
	}
}

func TestLoadConfig_MissingRESTAddr(t *testing.T) {
	yaml := `
catalog_path: "/etc/asterix/categories"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing rest_addr, got nil")
	}
	if !strings.Contains(err.Error(), "rest_addr") {
		t.Errorf("error %q does not mention rest_addr", err.Error())
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	yaml := `
catalog_path: "/etc/asterix/categories"
rest_addr: "127.0.0.1:8080"
log_level: "verbose"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err.Error())
	}
}

func TestLoadConfig_InvalidSourceType(t *testing.T) {
	yaml := `
catalog_path: "/etc/asterix/categories"
rest_addr: "127.0.0.1:8080"
sources:
  - name: bad-source
    type: tcp
    target: "127.0.0.1:9999"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid source type, got nil")
	}
	if !strings.Contains(err.Error(), "tcp") {
		t.Errorf("error %q does not mention invalid type %q", err.Error(), "tcp")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.LoadConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoadConfig_SourcesUnmarshalledCorrectly(t *testing.T) {
	yaml := `
catalog_path: "/etc/asterix/categories"
rest_addr: "127.0.0.1:8080"
sources:
  - name: multi-radar
    type: udp
    target: "239.2.2.2:8601"
    category_filter: [48, 62]
  - name: captures
    type: dir
    target: "/data/captures"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}
	s0 := cfg.Sources[0]
	if s0.Type != "udp" || s0.Target != "239.2.2.2:8601" || len(s0.CategoryFilter) != 2 {
		t.Errorf("Sources[0] = %+v", s0)
	}
	s1 := cfg.Sources[1]
	if s1.Type != "dir" || s1.Target != "/data/captures" {
		t.Errorf("Sources[1] = %+v", s1)
	}
}
