package cmd

import (
	"context"
	"flag"
	"testing"
)

type entrypointTestConfig struct {
	Addr string `env:"ESUSU_ENTRYPOINT_TEST_ADDR" envDefault:"localhost:9"`
}

func TestParseConfigDefaults(t *testing.T) {
	var cfg entrypointTestConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:9" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}

func TestParseArgsNilFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}

func TestParseArgsOverridesFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	addr := fs.String("addr", "default", "listen address")
	if err := ParseArgs(fs, []string{"-addr", "localhost:7777"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if *addr != "localhost:7777" {
		t.Fatalf("expected flag override, got %q", *addr)
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), "  ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryRunsLoop(t *testing.T) {
	ran := false
	err := RunWithTelemetry(context.Background(), ServiceCircles, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatal("expected run loop to execute")
	}
}
