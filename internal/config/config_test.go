package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
port: "8080"
databaseDSN: "host=localhost user=pazar dbname=pazar"
llmBaseURL: "https://api.openai.com/v1"
llmModel: "gpt-4o-mini"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListingCreditCost != 1 {
		t.Fatalf("default credit cost: %d", cfg.ListingCreditCost)
	}
	if cfg.SearchResultLimit != 5 {
		t.Fatalf("default search limit: %d", cfg.SearchResultLimit)
	}
	if cfg.ParseSessionTTL() != 24*time.Hour {
		t.Fatalf("default session ttl: %v", cfg.ParseSessionTTL())
	}
	if len(cfg.AllowedCategories) == 0 {
		t.Fatal("default categories missing")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-override")
	t.Setenv("LISTING_CREDIT_COST", "3")
	t.Setenv("ALLOWED_CATEGORIES", "Elektronik, Otomotiv")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLMModel != "gpt-override" {
		t.Fatalf("llm model override: %q", cfg.LLMModel)
	}
	if cfg.ListingCreditCost != 3 {
		t.Fatalf("credit cost override: %d", cfg.ListingCreditCost)
	}
	if len(cfg.AllowedCategories) != 2 || cfg.AllowedCategories[1] != "Otomotiv" {
		t.Fatalf("categories override: %v", cfg.AllowedCategories)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	_, err := Load(writeConfig(t, `port: "8080"`))
	if err == nil {
		t.Fatal("expected validation error for missing databaseDSN")
	}
}

func TestLoadRejectsBadSessionTTL(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`sessionTTL: "soon"`))
	if err == nil {
		t.Fatal("expected validation error for bad sessionTTL")
	}
}
