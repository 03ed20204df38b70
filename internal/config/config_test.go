package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Instances: map[string]InstanceConfig{
			"core": {
				Databases: map[string]DatabaseConfig{
					"app": {Driver: "memory"},
				},
			},
		},
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingInstances(t *testing.T) {
	cfg := validConfig()
	cfg.Instances = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing instances")
	}
}

func TestValidate_UnknownDatabaseDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Instances["core"].Databases["app"] = DatabaseConfig{Driver: "oracle"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}

	expected := `instances.core.databases.app.driver must be memory, mongo or postgres, got "oracle"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_MongoRequiresURI(t *testing.T) {
	cfg := validConfig()
	cfg.Instances["core"].Databases["app"] = DatabaseConfig{Driver: "mongo"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for mongo driver without uri")
	}
}

func TestValidate_RedisCacheRequiresAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Cache = CacheConfig{Driver: "redis"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for redis cache without addrs")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 30 {
		t.Errorf("expected WriteTimeoutSec=30, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Schema.Dir != "schemas" {
		t.Errorf("expected Schema.Dir='schemas', got %q", cfg.Schema.Dir)
	}
	if cfg.Cache.Driver != "none" {
		t.Errorf("expected Cache.Driver='none', got %q", cfg.Cache.Driver)
	}
	if cfg.Cache.TTLSec != 60 {
		t.Errorf("expected Cache.TTLSec=60, got %d", cfg.Cache.TTLSec)
	}
	if cfg.Engine.RequestTimeoutSec != 30 {
		t.Errorf("expected RequestTimeoutSec=30, got %d", cfg.Engine.RequestTimeoutSec)
	}
	if cfg.Engine.DefaultChunkSize != 1000 {
		t.Errorf("expected DefaultChunkSize=1000, got %d", cfg.Engine.DefaultChunkSize)
	}
	if cfg.Engine.MaxConcurrentPerBackend != 16 {
		t.Errorf("expected MaxConcurrentPerBackend=16, got %d", cfg.Engine.MaxConcurrentPerBackend)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:   HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Schema: SchemaConfig{Dir: "custom-schemas"},
		Cache:  CacheConfig{Driver: "memory", TTLSec: 300},
		Engine: EngineConfig{RequestTimeoutSec: 5, DefaultChunkSize: 250, MaxConcurrentPerBackend: 4},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Schema.Dir != "custom-schemas" {
		t.Errorf("expected Schema.Dir='custom-schemas', got %q", cfg.Schema.Dir)
	}
	if cfg.Cache.TTLSec != 300 {
		t.Errorf("expected Cache.TTLSec=300, got %d", cfg.Cache.TTLSec)
	}
	if cfg.Engine.DefaultChunkSize != 250 {
		t.Errorf("expected DefaultChunkSize=250, got %d", cfg.Engine.DefaultChunkSize)
	}
}
