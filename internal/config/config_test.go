package config

import (
	"reflect"
	"testing"
)

func TestLoad_CORSAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"https://app.example.com", "https://admin.example.com"}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Errorf("expected origins %v, got %v", want, cfg.CORSAllowedOrigins)
	}
}

func TestLoad_CORSDefaultsToBaseURL(t *testing.T) {
	t.Setenv("BASE_URL", "https://api.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"https://api.example.com"}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Errorf("expected origins %v, got %v", want, cfg.CORSAllowedOrigins)
	}
}

func TestLoad_ProductionRequiresSecretKey(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing SECRET_KEY in production")
	}
}
