package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Engine      EngineConfig     `yaml:"engine"`
	STT         STTConfig        `yaml:"stt"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig selects the transcription backend.
type EngineConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Model      string `yaml:"model"`
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// STTConfig drives the bus-facing transcription service.
type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ProfilesPath   string `yaml:"profiles_path"`
	DefaultProfile string `yaml:"default_profile"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	JournalDrift   bool   `yaml:"journal_drift"`
}

func Default() Config {
	return Config{
		RuntimeName: "fwtypes",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/fwtypes-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Engine: EngineConfig{
			Mode:       "mock",
			Model:      "small",
			Device:     "auto",
			SampleRate: 16000,
			Channels:   1,
		},
		STT: STTConfig{
			Enabled:        true,
			DefaultProfile: "default",
			TimeoutMS:      120000,
			MaxConcurrency: 2,
			JournalDrift:   true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "FWT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FWT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FWT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FWT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FWT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FWT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FWT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FWT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "FWT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FWT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "FWT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "FWT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FWT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FWT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FWT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FWT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FWT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "FWT_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "FWT_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "FWT_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "FWT_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "FWT_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "FWT_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "FWT_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Model, "FWT_ENGINE_MODEL")
	overrideString(&cfg.Engine.Device, "FWT_ENGINE_DEVICE")
	overrideInt(&cfg.Engine.SampleRate, "FWT_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.Channels, "FWT_ENGINE_CHANNELS")
	overrideBool(&cfg.STT.Enabled, "FWT_STT_ENABLED")
	overrideString(&cfg.STT.ProfilesPath, "FWT_STT_PROFILES_PATH")
	overrideString(&cfg.STT.DefaultProfile, "FWT_STT_DEFAULT_PROFILE")
	overrideInt(&cfg.STT.TimeoutMS, "FWT_STT_TIMEOUT_MS")
	overrideInt(&cfg.STT.MaxConcurrency, "FWT_STT_MAX_CONCURRENCY")
	overrideBool(&cfg.STT.JournalDrift, "FWT_STT_JOURNAL_DRIFT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.Channels <= 0 {
		return errors.New("engine.channels must be positive")
	}
	if cfg.STT.Enabled {
		if cfg.STT.DefaultProfile == "" {
			return errors.New("stt.default_profile must not be empty")
		}
		if cfg.STT.TimeoutMS <= 0 {
			return errors.New("stt.timeout_ms must be positive")
		}
		if cfg.STT.MaxConcurrency <= 0 {
			return errors.New("stt.max_concurrency must be >= 1")
		}
	}
	return nil
}
