package internal

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Confluence.Username = "jdoe"
	cfg.Confluence.APIKey = "secret"
	cfg.Confluence.OrgName = "acme"
	cfg.Confluence.Ancestor = "123"
	return cfg
}

func TestConfig_DefaultsWithCredentialsPass(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfig_DefaultsWithoutCredentialsFail(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err == nil {
		t.Fatal("default config without credentials should fail")
	}
}

func TestConfig_AncestorRequiredUnlessSimulating(t *testing.T) {
	cfg := validConfig()
	cfg.Confluence.Ancestor = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("missing ancestor should fail")
	}
	if !strings.Contains(err.Error(), "ancestor") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Sync.Simulate = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("simulate without ancestor should pass: %v", err)
	}
}

func TestConfig_MissingFolderPagePolicy(t *testing.T) {
	for _, p := range []string{"abort", "skip", "placeholder"} {
		cfg := validConfig()
		cfg.Sync.MissingFolderPage = p
		if err := cfg.Validate(); err != nil {
			t.Errorf("policy %q rejected: %v", p, err)
		}
	}

	cfg := validConfig()
	cfg.Sync.MissingFolderPage = "ignore"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown policy should fail validation")
	}
}

func TestConfig_LogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.App.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log format should fail validation")
	}
}

func TestConfig_NegativeDebounceFails(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.Debounce = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative debounce should fail validation")
	}
}

func TestConfig_NoFoldersFails(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Folders = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty folder list should fail validation")
	}
}

func TestConfluenceConfig_Space(t *testing.T) {
	c := ConfluenceConfig{Username: "jdoe"}
	if got := c.Space(); got != "~jdoe" {
		t.Errorf("Space() = %q, want %q", got, "~jdoe")
	}
	c.SpaceKey = "DOC"
	if got := c.Space(); got != "DOC" {
		t.Errorf("Space() = %q, want %q", got, "DOC")
	}
}

func TestJournalConfig_Enabled(t *testing.T) {
	var c JournalConfig
	if c.Enabled() {
		t.Error("journal without path should be disabled")
	}
	c.Path = "md2conf.db"
	if !c.Enabled() {
		t.Error("journal with path should be enabled")
	}
}
