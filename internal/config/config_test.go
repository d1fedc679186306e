package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefaultsOrderTransferToFalse(t *testing.T) {
	viper.Reset()
	os.Unsetenv("IRONCHAIN_ORDER_TRANSFER")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Features.OrderTransfer {
		t.Fatalf("expected order transfer to default to false")
	}
}

func TestLoadReadsOrderTransferFromEnv(t *testing.T) {
	viper.Reset()
	os.Setenv("IRONCHAIN_ORDER_TRANSFER", "true")
	defer os.Unsetenv("IRONCHAIN_ORDER_TRANSFER")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Features.OrderTransfer {
		t.Fatalf("expected order transfer to be enabled from env")
	}
}

func TestLoadFromEnvSelectsOverlayName(t *testing.T) {
	viper.Reset()
	os.Unsetenv("IRONCHAIN_ENV")
	os.Unsetenv("IRONCHAIN_ORDER_TRANSFER")

	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("load from env: %v", err)
	}
}

func TestBoolFromEnvRejectsUnparseableValue(t *testing.T) {
	os.Setenv("IRONCHAIN_TEST_FLAG", "not-a-bool")
	defer os.Unsetenv("IRONCHAIN_TEST_FLAG")
	if boolFromEnv("IRONCHAIN_TEST_FLAG") {
		t.Fatalf("expected unparseable flag value to default to false")
	}
}
