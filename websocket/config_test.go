package websocket

import (
	"errors"
	"testing"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}.applyDefaults()
	if cfg.ReadBufferSize != defaultReadBufferSize {
		t.Errorf("ReadBufferSize = %d, want %d", cfg.ReadBufferSize, defaultReadBufferSize)
	}
	if cfg.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d, want %d", cfg.MaxMessageSize, defaultMaxMessageSize)
	}
}

func TestConfig_ApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{ReadBufferSize: 4096, MaxMessageSize: 8192}.applyDefaults()
	if cfg.ReadBufferSize != 4096 || cfg.MaxMessageSize != 8192 {
		t.Errorf("applyDefaults overwrote explicit values: %+v", cfg)
	}
}

func TestConfig_Validate_ReadBufferExceedsMax(t *testing.T) {
	cfg := Config{ReadBufferSize: 8192, MaxMessageSize: 4096}
	if err := cfg.validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestConfig_Validate_OK(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate failed on default config: %v", err)
	}
}
