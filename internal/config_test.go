package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Notion.Token = "secret_abc"
	return cfg
}

func TestFullConfig_DefaultsWithToken(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("defaults with a notion token should pass: %v", err)
	}
}

func TestFullConfig_MissingNotionToken(t *testing.T) {
	err := NewDefaultConfig().Validate()
	if err == nil {
		t.Fatal("missing notion token should fail")
	}
	if !strings.Contains(err.Error(), "NOTION_TOKEN") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFullConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without address", func(c *Config) { c.Cache.Backend = "redis" }},
		{"sqlite without path", func(c *Config) { c.Cache.Backend = "sqlite"; c.Cache.SQLitePath = "" }},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"local storage without path", func(c *Config) { c.Storage.Backend = "local"; c.Storage.Local.Path = "" }},
		{"drive without credentials", func(c *Config) { c.Storage.Backend = "drive" }},
		{"inbox without project", func(c *Config) { c.Inbox.Enabled = true; c.Inbox.ProjectID = "" }},
		{"inclusion filter without field", func(c *Config) { c.Points.InclusionFilter = true; c.Points.InclusionField = "" }},
		{"bad notion url", func(c *Config) { c.Notion.BaseURL = "not a url" }},
		{"port out of range", func(c *Config) { c.App.HTTP.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFullConfig_BackendSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Address = "localhost:6379"
	cfg.Storage.Backend = "drive"
	cfg.Storage.Drive.CredentialsFile = "sa.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete backend settings should pass: %v", err)
	}

	cc := cfg.Cache.backendConfig()
	if cc.Redis.Address != "localhost:6379" || cc.Redis.Prefix == "" {
		t.Errorf("cache config = %+v", cc)
	}
	sc := cfg.Storage.backendConfig()
	if sc.Backend != "drive" || sc.DriveCredentialsFile != "sa.json" {
		t.Errorf("storage config = %+v", sc)
	}
}
