package config

import (
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				App:      AppConfig{Name: "test-service"},
				HTTP:     HTTPConfig{Port: 8080},
				Log:      LogConfig{Level: "info"},
				Dispatch: DispatchConfig{AvgSpeedKmh: 50, SlackUsageRatio: 0.5},
			},
			wantErr: false,
		},
		{
			name: "missing app name",
			cfg: Config{
				HTTP:     HTTPConfig{Port: 8080},
				Log:      LogConfig{Level: "info"},
				Dispatch: DispatchConfig{AvgSpeedKmh: 50},
			},
			wantErr: true,
		},
		{
			name: "invalid port - zero",
			cfg: Config{
				App:      AppConfig{Name: "test"},
				HTTP:     HTTPConfig{Port: 0},
				Dispatch: DispatchConfig{AvgSpeedKmh: 50},
			},
			wantErr: true,
		},
		{
			name: "invalid port - too high",
			cfg: Config{
				App:      AppConfig{Name: "test"},
				HTTP:     HTTPConfig{Port: 70000},
				Dispatch: DispatchConfig{AvgSpeedKmh: 50},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: Config{
				App:      AppConfig{Name: "test"},
				HTTP:     HTTPConfig{Port: 8080},
				Log:      LogConfig{Level: "invalid"},
				Dispatch: DispatchConfig{AvgSpeedKmh: 50},
			},
			wantErr: true,
		},
		{
			name: "non-positive avg speed",
			cfg: Config{
				App:      AppConfig{Name: "test"},
				HTTP:     HTTPConfig{Port: 8080},
				Log:      LogConfig{Level: "info"},
				Dispatch: DispatchConfig{AvgSpeedKmh: 0},
			},
			wantErr: true,
		},
		{
			name: "slack usage ratio out of range",
			cfg: Config{
				App:      AppConfig{Name: "test"},
				HTTP:     HTTPConfig{Port: 8080},
				Log:      LogConfig{Level: "info"},
				Dispatch: DispatchConfig{AvgSpeedKmh: 50, SlackUsageRatio: 1.5},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsProduction(); got != tt.want {
			t.Errorf("IsProduction() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestCacheConfig_Address(t *testing.T) {
	cfg := CacheConfig{
		Host: "redis.local",
		Port: 6379,
	}

	addr := cfg.Address()
	if addr != "redis.local:6379" {
		t.Errorf("expected 'redis.local:6379', got %s", addr)
	}
}

func TestCORSConfig(t *testing.T) {
	cfg := CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://localhost:3000", "https://example.com"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           86400,
	}

	if !cfg.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %d", len(cfg.AllowedOrigins))
	}
}
