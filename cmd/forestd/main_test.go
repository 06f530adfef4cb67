package main

import (
	"testing"
)

func TestServerConfigValidate(test *testing.T) {
	test.Parallel()
	cfg := serverConfig{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		test.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}

	partial := serverConfig{AccessToken: "access"}
	if err := partial.Validate(); err == nil {
		test.Fatalf("expected error for a lone access token")
	}

	paired := serverConfig{ListenAddr: " 127.0.0.1:9000 ", AccessToken: "access", RefreshToken: "refresh"}
	if err := paired.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if paired.ListenAddr != "127.0.0.1:9000" {
		test.Fatalf("expected trimmed listen addr, got %q", paired.ListenAddr)
	}
}

func TestLoadConfigReadsFlags(test *testing.T) {
	test.Parallel()
	cmd := newRootCommand()
	if err := cmd.Flags().Set(flagListenAddr, ":9100"); err != nil {
		test.Fatalf("set flag: %v", err)
	}
	cfg := &serverConfig{}
	if err := loadConfig(cmd, cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":9100" || cfg.AccessToken != "" {
		test.Fatalf("unexpected config %+v", cfg)
	}
}
