package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CASH_LEVY_PERCENT", "")
	t.Setenv("VOUCHER_THRESHOLD_VES", "")
	t.Setenv("FALLBACK_RATE_VES", "")

	cfg := Load()
	if !cfg.LevyRatePercent.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected default levy 3%%, got %s", cfg.LevyRatePercent)
	}
	if !cfg.LevyRate().Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("expected levy fraction 0.03, got %s", cfg.LevyRate())
	}
	if !cfg.VoucherThresholdVES.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected default threshold Bs 2, got %s", cfg.VoucherThresholdVES)
	}
	if cfg.ExpiryWarningDays != 90 {
		t.Fatalf("expected default expiry window 90, got %d", cfg.ExpiryWarningDays)
	}
}

func TestLoadRejectsMalformedDecimals(t *testing.T) {
	t.Setenv("CASH_LEVY_PERCENT", "not-a-number")
	t.Setenv("FALLBACK_RATE_VES", "-5")

	cfg := Load()
	if !cfg.LevyRatePercent.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("malformed levy should fall back to 3, got %s", cfg.LevyRatePercent)
	}
	if !cfg.FallbackRateVES.Equal(decimal.NewFromInt(36)) {
		t.Fatalf("negative rate should fall back to 36, got %s", cfg.FallbackRateVES)
	}
}

func TestLoadRejectsZeroFallbackRate(t *testing.T) {
	// The rate divides payment amounts, so zero is unusable.
	t.Setenv("FALLBACK_RATE_VES", "0")

	cfg := Load()
	if !cfg.FallbackRateVES.Equal(decimal.NewFromInt(36)) {
		t.Fatalf("zero rate should fall back to 36, got %s", cfg.FallbackRateVES)
	}
}

func TestLoadDoesNotInjectPINDefault(t *testing.T) {
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}
