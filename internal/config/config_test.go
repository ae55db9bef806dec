package config_test

import (
	"strings"
	"testing"

	"formtrack/internal/config"
	"formtrack/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default("prog-1")
	if cfg.Program.ID != "prog-1" {
		t.Fatalf("program id = %q", cfg.Program.ID)
	}
	rule, ok := cfg.Rule(domain.StatusPostTraining)
	if !ok {
		t.Fatal("default config missing post_training rule")
	}
	if rule.DueDays() != 2 {
		t.Fatalf("due days = %d, want 2", rule.DueDays())
	}
	if _, ok := cfg.Rule(domain.StatusArchived); ok {
		t.Fatal("archived must not carry a default rule")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDescribeFillsTitle(t *testing.T) {
	rule := config.AutomationRule{Description: "Enviar relatório: {title}"}
	if got := rule.Describe("Oficina 1"); got != "Enviar relatório: Oficina 1" {
		t.Fatalf("describe = %q", got)
	}
	plain := config.AutomationRule{Description: "Sem placeholder"}
	if got := plain.Describe("Oficina 1"); got != "Sem placeholder" {
		t.Fatalf("describe = %q", got)
	}
}

func TestDueDaysDefault(t *testing.T) {
	if got := (config.AutomationRule{}).DueDays(); got != config.DefaultDueInDays {
		t.Fatalf("zero due days = %d", got)
	}
	if got := (config.AutomationRule{DueInDays: 5}).DueDays(); got != 5 {
		t.Fatalf("due days = %d", got)
	}
}

func TestFromYAMLRejectsUnknownStatusKey(t *testing.T) {
	raw := `
program:
  id: prog-1
automation:
  rules:
    cancelled:
      description: "never"
`
	_, err := config.FromYAML([]byte(raw))
	if err == nil || !strings.Contains(err.Error(), "unknown training status") {
		t.Fatalf("err = %v", err)
	}
}

func TestFromYAMLRejectsEmptyDescription(t *testing.T) {
	raw := `
program:
  id: prog-1
automation:
  rules:
    completed:
      description: "  "
`
	if _, err := config.FromYAML([]byte(raw)); err == nil {
		t.Fatal("expected empty description error")
	}
}

func TestValidateRequiresProgramID(t *testing.T) {
	var cfg config.Config
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected program id error")
	}
}
