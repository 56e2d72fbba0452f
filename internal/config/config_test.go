package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "ENV", "STORE_BACKEND", "CHANNEL_MODE", "ADAPTER_TIMEOUT", "SQS_REGION", "AWS_REGION"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}
	if cfg.StoreBackend != StorePostgres {
		t.Errorf("expected postgres store, got %s", cfg.StoreBackend)
	}
	if cfg.ChannelMode != ChannelModeSimulated {
		t.Errorf("expected simulated channels, got %s", cfg.ChannelMode)
	}
	if cfg.AdapterTimeout != 0 {
		t.Errorf("expected adapter timeout disabled, got %s", cfg.AdapterTimeout)
	}
	if cfg.SQSRegion != "us-east-1" {
		t.Errorf("expected SQS region to follow AWS_REGION default, got %s", cfg.SQSRegion)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENV", "production")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CHANNEL_MODE", "aws")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SNS_REGION", "")
	t.Setenv("ADAPTER_TIMEOUT", "750ms")
	t.Setenv("BREAKER_RECOVERY_TIMEOUT", "45")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("EVENTS_TOPIC_ARN", "arn:aws:sns:eu-west-1:123456789012:outcomes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected env/level: %s/%s", cfg.Env, cfg.LogLevel)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Errorf("expected memory store, got %s", cfg.StoreBackend)
	}
	if cfg.ChannelMode != ChannelModeAWS {
		t.Errorf("expected aws channels, got %s", cfg.ChannelMode)
	}
	if cfg.SNSRegion != "eu-west-1" {
		t.Errorf("expected SNS region eu-west-1, got %s", cfg.SNSRegion)
	}
	if cfg.AdapterTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.AdapterTimeout)
	}
	if cfg.BreakerRecoveryTimeout != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.BreakerRecoveryTimeout)
	}
	if cfg.RedisEnabled {
		t.Error("expected redis disabled")
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.WorkerConcurrency)
	}
	if cfg.EventsTopicARN != "arn:aws:sns:eu-west-1:123456789012:outcomes" {
		t.Errorf("unexpected events topic %q", cfg.EventsTopicARN)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"DB_PORT", "x"},
		{"REDIS_ENABLED", "maybe"},
		{"STORE_BACKEND", "sqlite"},
		{"CHANNEL_MODE", "carrier-pigeon"},
		{"ADAPTER_TIMEOUT", "soon"},
		{"WORKER_CONCURRENCY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
