package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RPC_URL", "http://localhost:8545")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: poolwatch\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ethereum.RPCURL != "http://localhost:8545" {
		t.Fatalf("RPC_URL env not bound, got %q", cfg.Ethereum.RPCURL)
	}
	if cfg.Ethereum.PairAddress != DefaultPairAddress {
		t.Fatalf("unexpected pair %q", cfg.Ethereum.PairAddress)
	}
	if cfg.Monitor.FailureBackoff != 2*time.Second {
		t.Fatalf("unexpected backoff %s", cfg.Monitor.FailureBackoff)
	}
	if cfg.Monitor.Interval() != 12*time.Second {
		t.Fatalf("unexpected interval %s", cfg.Monitor.Interval())
	}
	if cfg.Sink.CSVPath != "prices.csv" || cfg.Pool.BaseSymbol != "WETH" || cfg.Pool.QuoteSymbol != "USDC" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Sink, cfg.Pool)
	}
	if cfg.Logging.Output != "stderr" {
		t.Fatalf("logs must default to stderr, got %q", cfg.Logging.Output)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
monitor:
  interval_seconds: 3.5
  threshold_pct: 1.25
  window_blocks: 10
  min_activity: 50000
alerting:
  channels: telegram,log
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POOLWATCH_MONITOR_QUIET", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Interval() != 3500*time.Millisecond {
		t.Fatalf("unexpected interval %s", cfg.Monitor.Interval())
	}
	if cfg.Monitor.WindowBlocks != 10 || cfg.Monitor.ThresholdPct != 1.25 || cfg.Monitor.MinActivity != 50000 {
		t.Fatalf("unexpected monitor config %+v", cfg.Monitor)
	}
	if !cfg.Monitor.Quiet {
		t.Fatalf("env override for quiet not applied")
	}
	if len(cfg.Alerting.Channels) != 2 || cfg.Alerting.Channels[1] != "log" {
		t.Fatalf("unexpected channels %v", cfg.Alerting.Channels)
	}
}

func validConfig() Config {
	return Config{
		Ethereum: EthereumConfig{PairAddress: DefaultPairAddress, RequestTimeout: time.Second},
		Monitor: MonitorConfig{
			IntervalSeconds: 12,
			ThresholdPct:    0.5,
			WindowBlocks:    5,
			FailureBackoff:  2 * time.Second,
		},
		Sink:   SinkConfig{CSVPath: "prices.csv"},
		Export: ExportConfig{MaxDataPoints: 10},
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"zero interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }, "interval"},
		{"nan interval", func(c *Config) { c.Monitor.IntervalSeconds = math.NaN() }, "interval"},
		{"sub-nanosecond interval", func(c *Config) { c.Monitor.IntervalSeconds = 1e-10 }, "interval"},
		{"interval overflows duration", func(c *Config) { c.Monitor.IntervalSeconds = 1e12 }, "interval"},
		{"negative threshold", func(c *Config) { c.Monitor.ThresholdPct = -1 }, "threshold"},
		{"infinite threshold", func(c *Config) { c.Monitor.ThresholdPct = math.Inf(1) }, "threshold"},
		{"zero window", func(c *Config) { c.Monitor.WindowBlocks = 0 }, "window"},
		{"negative activity", func(c *Config) { c.Monitor.MinActivity = -5 }, "min-usdc"},
		{"bad pair", func(c *Config) { c.Ethereum.PairAddress = "0x1234" }, "pair"},
		{"empty csv", func(c *Config) { c.Sink.CSVPath = " " }, "csv"},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }, "alerting.telegram.bot_token"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Key != tc.key {
				t.Fatalf("expected key %q, got %q", tc.key, verr.Key)
			}
		})
	}
}

func TestValidateAcceptsZeroThresholdAndActivity(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.ThresholdPct = 0
	cfg.Monitor.MinActivity = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateIntervalBounds(t *testing.T) {
	for _, secs := range []float64{1e-8, 0.001, MaxIntervalSeconds} {
		cfg := validConfig()
		cfg.Monitor.IntervalSeconds = secs
		if err := cfg.Validate(); err != nil {
			t.Fatalf("interval %v: unexpected error: %v", secs, err)
		}
		if cfg.Monitor.Interval() <= 0 {
			t.Fatalf("interval %v converted to %s", secs, cfg.Monitor.Interval())
		}
	}
}

func TestValidateRuntimeRequiresRPC(t *testing.T) {
	cfg := validConfig()
	var verr *ValidationError
	if err := cfg.ValidateRuntime(); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	cfg.Ethereum.RPCURL = "http://localhost:8545"
	if err := cfg.ValidateRuntime(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	if got := cfg.ResolveMaxPoints(0); got != 10 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(3); got != 3 {
		t.Fatalf("expected override, got %d", got)
	}
}
