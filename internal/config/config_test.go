package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("expected 5 retry attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialDelay != time.Second {
		t.Errorf("expected 1s initial delay, got %s", cfg.RetryInitialDelay)
	}
	if cfg.RetryMaxDelay != 10*time.Minute {
		t.Errorf("expected 10m max delay, got %s", cfg.RetryMaxDelay)
	}
	if cfg.CountryCallingCode != "91" {
		t.Errorf("expected calling code 91, got %s", cfg.CountryCallingCode)
	}
	if cfg.WhatsAppProvider != "meta" {
		t.Errorf("expected default whatsapp provider meta, got %s", cfg.WhatsAppProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WABA_ENABLE", "true")
	t.Setenv("WABA_PROVIDER", "Twilio")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("PROVIDER_TIMEOUT", "5s")

	cfg := Load()
	if !cfg.WhatsAppEnable {
		t.Error("expected WhatsAppEnable true")
	}
	if cfg.WhatsAppProvider != "twilio" {
		t.Errorf("expected provider lowered to twilio, got %s", cfg.WhatsAppProvider)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", cfg.ProviderTimeout)
	}
}
