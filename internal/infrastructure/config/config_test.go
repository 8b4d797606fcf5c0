package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  name: "base"
  namespace: "bts"
database:
  path: "/tmp/scripts.db"
mqtt:
  broker:
    host: "broker.lsst.org"
    port: 1884
    client_id: "script-runner"
  qos: 1
lfa:
  bucket: "my-bucket"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.Name != "base" {
		t.Errorf("Site.Name = %q, want %q", cfg.Site.Name, "base")
	}
	if cfg.Site.Namespace != "bts" {
		t.Errorf("Site.Namespace = %q, want %q", cfg.Site.Namespace, "bts")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if got := cfg.LFABucketName(); got != "my-bucket" {
		t.Errorf("LFABucketName() = %q, want %q", got, "my-bucket")
	}
	// Defaults survive a partial file.
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want default 8090", cfg.API.Port)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Site.Namespace != "summit" {
		t.Errorf("Site.Namespace = %q, want %q", cfg.Site.Namespace, "summit")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  namespace: "a/b"
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for namespace with '/', got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing site name", mutate: func(c *Config) { c.Site.Name = "" }, wantErr: true},
		{name: "missing namespace", mutate: func(c *Config) { c.Site.Namespace = "" }, wantErr: true},
		{name: "wildcard namespace", mutate: func(c *Config) { c.Site.Namespace = "sum+mit" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "" },
			wantErr: true,
		},
		{name: "negative image server timeout", mutate: func(c *Config) { c.ImageServer.Timeout = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		ImageServer: ImageServerConfig{Timeout: 7},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetImageServerTimeout().Seconds(); got != 7 {
		t.Errorf("GetImageServerTimeout() = %v, want 7", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TSSCRIPT_SITE_NAME", "tucson")
	t.Setenv("TSSCRIPT_SITE_NAMESPACE", "tts")
	t.Setenv("TSSCRIPT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TSSCRIPT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TSSCRIPT_MQTT_PORT", "8883")
	t.Setenv("TSSCRIPT_MQTT_USERNAME", "testuser")
	t.Setenv("TSSCRIPT_MQTT_PASSWORD", "testpass")
	t.Setenv("TSSCRIPT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TSSCRIPT_LFA_BUCKET", "lfa")
	t.Setenv("TSSCRIPT_API_JWT_SECRET", "monitor-secret")
	t.Setenv("TSSCRIPT_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Site.Name != "tucson" {
		t.Errorf("Site.Name = %q, want %q", cfg.Site.Name, "tucson")
	}
	if cfg.Site.Namespace != "tts" {
		t.Errorf("Site.Namespace = %q, want %q", cfg.Site.Namespace, "tts")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.LFA.Bucket != "lfa" {
		t.Errorf("LFA.Bucket = %q, want %q", cfg.LFA.Bucket, "lfa")
	}
	if cfg.API.JWTSecret != "monitor-secret" {
		t.Errorf("API.JWTSecret = %q, want %q", cfg.API.JWTSecret, "monitor-secret")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("TSSCRIPT_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestConfig_SiteDerivedValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.Name = "base"

	if got := cfg.LFABucketName(); got != "rubinobs-lfa-base" {
		t.Errorf("LFABucketName() = %q, want %q", got, "rubinobs-lfa-base")
	}
	if got := cfg.ImageServerURL(); got != "http://lsstcam-mcm.ls.lsst.org" {
		t.Errorf("ImageServerURL() = %q", got)
	}

	cfg.Site.Name = "nowhere"
	if got := cfg.ImageServerURL(); got != "" {
		t.Errorf("ImageServerURL() for unknown site = %q, want empty", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.Name == "" {
		t.Error("defaultConfig should have non-empty Site.Name")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
}
