package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presaled.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sale_file: presale.toml
data_dir: /tmp/presaled
auth:
  hmac_secret: s3cret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7080" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if want := filepath.Join(filepath.Dir(path), "presale.toml"); cfg.SaleFile != want {
		t.Fatalf("sale file not resolved relative to config: %q", cfg.SaleFile)
	}
	if cfg.Journal.Driver != DriverSQLite {
		t.Fatalf("unexpected journal driver %q", cfg.Journal.Driver)
	}
	if cfg.Journal.DSN != "file:/tmp/presaled/journal.sqlite" {
		t.Fatalf("unexpected journal dsn %q", cfg.Journal.DSN)
	}
	if cfg.Auth.ClockSkew.Duration != 2*time.Minute {
		t.Fatalf("unexpected clock skew %s", cfg.Auth.ClockSkew.Duration)
	}
	if cfg.RateLimit.Purchases.RequestsPerMinute != 30 || cfg.RateLimit.Purchases.Burst != 5 {
		t.Fatalf("unexpected purchase limit %+v", cfg.RateLimit.Purchases)
	}
	if cfg.Telemetry.SampleRatio != 1 {
		t.Fatalf("unexpected sample ratio %v", cfg.Telemetry.SampleRatio)
	}
	if cfg.TLS.Enabled() {
		t.Fatalf("tls should be disabled without certificates")
	}
}

func TestLoadParsesDurationsAndPauses(t *testing.T) {
	path := writeConfig(t, `
sale_file: /etc/presale.toml
journal:
  driver: Postgres
  dsn: postgres://presale@localhost/journal
auth:
  hmac_secret: s3cret
  clock_skew: 45s
log:
  level: debug
  file: /var/log/presaled.log
paused: [presale]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SaleFile != "/etc/presale.toml" {
		t.Fatalf("absolute sale file rewritten: %q", cfg.SaleFile)
	}
	if cfg.Journal.Driver != DriverPostgres {
		t.Fatalf("driver not normalised: %q", cfg.Journal.Driver)
	}
	if cfg.Auth.ClockSkew.Duration != 45*time.Second {
		t.Fatalf("unexpected clock skew %s", cfg.Auth.ClockSkew.Duration)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Fatalf("unexpected log level %v", cfg.Log.SlogLevel())
	}
	if cfg.Log.MaxSizeMB != 100 || cfg.Log.MaxBackups != 7 || cfg.Log.MaxAgeDays != 30 {
		t.Fatalf("rotation defaults missing: %+v", cfg.Log)
	}
	if len(cfg.Paused) != 1 || cfg.Paused[0] != "presale" {
		t.Fatalf("unexpected paused modules %v", cfg.Paused)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"missing sale file": {
			body: "auth:\n  hmac_secret: x\n",
			want: "sale_file",
		},
		"missing secret": {
			body: "sale_file: s.toml\n",
			want: "auth.hmac_secret",
		},
		"unknown driver": {
			body: "sale_file: s.toml\nauth:\n  hmac_secret: x\njournal:\n  driver: mysql\n  dsn: x\n",
			want: "journal.driver",
		},
		"postgres without dsn": {
			body: "sale_file: s.toml\nauth:\n  hmac_secret: x\njournal:\n  driver: postgres\n",
			want: "journal.dsn",
		},
		"half tls": {
			body: "sale_file: s.toml\nauth:\n  hmac_secret: x\ntls:\n  cert_file: c.pem\n",
			want: "tls.cert_file",
		},
		"bad duration": {
			body: "sale_file: s.toml\nauth:\n  hmac_secret: x\n  clock_skew: soon\n",
			want: "parse duration",
		},
		"unknown key": {
			body: "sale_file: s.toml\nauth:\n  hmac_secret: x\nlisten_addr: :1\n",
			want: "listen_addr",
		},
		"sample ratio": {
			body: "sale_file: s.toml\nauth:\n  hmac_secret: x\ntelemetry:\n  sample_ratio: 2\n",
			want: "sample_ratio",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
