// Package config loads listener settings from defaults, an optional yaml file,
// a .env file and LISTENER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Session     SessionConfig     `yaml:"session"`
	Audio       AudioConfig       `yaml:"audio"`
	Engine      EngineConfig      `yaml:"engine"`
	TTS         TTSConfig         `yaml:"tts"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Auth        AuthConfig        `yaml:"auth"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type SessionConfig struct {
	QueueSize      int   `yaml:"queue_size"`
	SendBuffer     int   `yaml:"send_buffer"`
	IdleTimeoutMS  int   `yaml:"idle_timeout_ms"`
	MaxMessageSize int64 `yaml:"max_message_size"`
}

type AudioConfig struct {
	DecoderCommand  string `yaml:"decoder_command"`
	DecodeTimeoutMS int    `yaml:"decode_timeout_ms"`
	TempDir         string `yaml:"temp_dir"`
}

type EngineConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, google
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Mode             string `yaml:"mode"` // mock, piper, elevenlabs
	PiperPath        string `yaml:"piper_path"`
	ModelPath        string `yaml:"model_path"`
	ModelConfig      string `yaml:"model_config"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key"`
	ElevenLabsVoice  string `yaml:"elevenlabs_voice"`
	ElevenLabsURL    string `yaml:"elevenlabs_url"`
}

type TranscriptsConfig struct {
	Store          string `yaml:"store"` // none, memory, sqlite, mongo
	SQLitePath     string `yaml:"sqlite_path"`
	MongoURI       string `yaml:"mongo_uri"`
	MongoDatabase  string `yaml:"mongo_database"`
	RetentionHours int    `yaml:"retention_hours"`
	QueueSize      int    `yaml:"queue_size"`
	NATSURL        string `yaml:"nats_url"`
	NATSSubject    string `yaml:"nats_subject"`
}

type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Secret    string `yaml:"secret"`
	IssuerKey string `yaml:"issuer_key"`
	TokenTTLH int    `yaml:"token_ttl_hours"`
}

type TelemetryConfig struct {
	LogLevel string `yaml:"log_level"`
	Metrics  bool   `yaml:"metrics"`
}

// Default returns a configuration that runs locally with the mock engine
func Default() Config {
	return Config{
		ServiceName: "listener",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8765,
		},
		Session: SessionConfig{
			QueueSize:      64,
			SendBuffer:     256,
			IdleTimeoutMS:  0,
			MaxMessageSize: 512 * 1024,
		},
		Audio: AudioConfig{
			DecoderCommand:  "ffmpeg",
			DecodeTimeoutMS: 5000,
		},
		Engine: EngineConfig{
			Mode:       "mock",
			Language:   "en-US",
			SampleRate: 16000,
			TimeoutMS:  10000,
		},
		TTS: TTSConfig{
			Enabled:   true,
			Mode:      "mock",
			PiperPath: "piper",
			TimeoutMS: 30000,
		},
		Transcripts: TranscriptsConfig{
			Store:          "memory",
			SQLitePath:     "./data/transcripts.db",
			MongoURI:       "mongodb://localhost:27017",
			MongoDatabase:  "listener",
			RetentionHours: 24 * 7,
			QueueSize:      256,
			NATSSubject:    "listener.transcript.final",
		},
		Auth: AuthConfig{
			TokenTTLH: 24,
		},
		Telemetry: TelemetryConfig{
			LogLevel: "info",
			Metrics:  true,
		},
	}
}

// Load builds the configuration. An empty path skips the yaml file.
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

	// a missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "LISTENER_SERVICE_NAME")
	overrideString(&cfg.Environment, "LISTENER_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LISTENER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.Port, "LISTENER_HTTP_PORT")
	overrideInt(&cfg.Session.QueueSize, "LISTENER_SESSION_QUEUE_SIZE")
	overrideInt(&cfg.Session.SendBuffer, "LISTENER_SESSION_SEND_BUFFER")
	overrideInt(&cfg.Session.IdleTimeoutMS, "LISTENER_SESSION_IDLE_TIMEOUT_MS")
	overrideInt64(&cfg.Session.MaxMessageSize, "LISTENER_SESSION_MAX_MESSAGE_SIZE")
	overrideString(&cfg.Audio.DecoderCommand, "LISTENER_AUDIO_DECODER_COMMAND")
	overrideInt(&cfg.Audio.DecodeTimeoutMS, "LISTENER_AUDIO_DECODE_TIMEOUT_MS")
	overrideString(&cfg.Audio.TempDir, "LISTENER_AUDIO_TEMP_DIR")
	overrideString(&cfg.Engine.Mode, "LISTENER_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LISTENER_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "LISTENER_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "LISTENER_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.SampleRate, "LISTENER_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.TimeoutMS, "LISTENER_ENGINE_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "LISTENER_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LISTENER_TTS_MODE")
	overrideString(&cfg.TTS.PiperPath, "LISTENER_TTS_PIPER_PATH")
	overrideString(&cfg.TTS.ModelPath, "LISTENER_TTS_MODEL_PATH")
	overrideString(&cfg.TTS.ModelConfig, "LISTENER_TTS_MODEL_CONFIG")
	overrideInt(&cfg.TTS.TimeoutMS, "LISTENER_TTS_TIMEOUT_MS")
	overrideString(&cfg.TTS.ElevenLabsAPIKey, "ELEVEN_LABS_API_KEY")
	overrideString(&cfg.TTS.ElevenLabsVoice, "ELEVEN_LABS_VOICE_ID")
	overrideString(&cfg.TTS.ElevenLabsURL, "ELEVEN_LABS_API_BASE_URL")
	overrideString(&cfg.Transcripts.Store, "LISTENER_TRANSCRIPTS_STORE")
	overrideString(&cfg.Transcripts.SQLitePath, "LISTENER_TRANSCRIPTS_SQLITE_PATH")
	overrideString(&cfg.Transcripts.MongoURI, "MONGODB_URI")
	overrideString(&cfg.Transcripts.MongoDatabase, "MONGODB_DATABASE")
	overrideInt(&cfg.Transcripts.RetentionHours, "LISTENER_TRANSCRIPTS_RETENTION_HOURS")
	overrideInt(&cfg.Transcripts.QueueSize, "LISTENER_TRANSCRIPTS_QUEUE_SIZE")
	overrideString(&cfg.Transcripts.NATSURL, "LISTENER_TRANSCRIPTS_NATS_URL")
	overrideString(&cfg.Transcripts.NATSSubject, "LISTENER_TRANSCRIPTS_NATS_SUBJECT")
	overrideBool(&cfg.Auth.Enabled, "LISTENER_AUTH_ENABLED")
	overrideString(&cfg.Auth.Secret, "JWT_SECRET")
	overrideString(&cfg.Auth.IssuerKey, "LISTENER_AUTH_ISSUER_KEY")
	overrideInt(&cfg.Auth.TokenTTLH, "LISTENER_AUTH_TOKEN_TTL_HOURS")
	overrideString(&cfg.Telemetry.LogLevel, "LOG_LEVEL")
	overrideBool(&cfg.Telemetry.Metrics, "LISTENER_TELEMETRY_METRICS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

// Validate checks cross-field constraints
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if c.Session.QueueSize <= 0 {
		return errors.New("session.queue_size must be positive")
	}
	if c.Session.SendBuffer <= 0 {
		return errors.New("session.send_buffer must be positive")
	}
	if c.Session.IdleTimeoutMS < 0 {
		return errors.New("session.idle_timeout_ms must be >= 0")
	}
	if c.Session.MaxMessageSize <= 0 {
		return errors.New("session.max_message_size must be positive")
	}
	if strings.TrimSpace(c.Audio.DecoderCommand) == "" {
		return errors.New("audio.decoder_command must not be empty")
	}
	if c.Audio.DecodeTimeoutMS <= 0 {
		return errors.New("audio.decode_timeout_ms must be positive")
	}
	switch c.Engine.Mode {
	case "mock", "google":
	case "exec":
		if c.Engine.Command == "" {
			return errors.New("engine.command must be set when mode=exec")
		}
	default:
		return errors.New("engine.mode must be one of mock|exec|google")
	}
	if c.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if c.TTS.Enabled {
		switch c.TTS.Mode {
		case "mock":
		case "piper":
			if c.TTS.ModelPath == "" || c.TTS.ModelConfig == "" {
				return errors.New("tts.model_path and tts.model_config must be set when mode=piper")
			}
		case "elevenlabs":
			if c.TTS.ElevenLabsAPIKey == "" {
				return errors.New("tts.elevenlabs_api_key must be set when mode=elevenlabs")
			}
		default:
			return errors.New("tts.mode must be one of mock|piper|elevenlabs")
		}
	}
	switch c.Transcripts.Store {
	case "none", "memory":
	case "sqlite":
		if c.Transcripts.SQLitePath == "" {
			return errors.New("transcripts.sqlite_path must be set when store=sqlite")
		}
	case "mongo":
		if c.Transcripts.MongoURI == "" || c.Transcripts.MongoDatabase == "" {
			return errors.New("transcripts.mongo_uri and transcripts.mongo_database must be set when store=mongo")
		}
	default:
		return errors.New("transcripts.store must be one of none|memory|sqlite|mongo")
	}
	if c.Transcripts.RetentionHours < 0 {
		return errors.New("transcripts.retention_hours must be >= 0")
	}
	if c.Transcripts.QueueSize <= 0 {
		return errors.New("transcripts.queue_size must be positive")
	}
	if c.Auth.Enabled && len(c.Auth.Secret) < 16 {
		return errors.New("auth.secret must be at least 16 bytes when auth is enabled")
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Bind, c.HTTP.Port)
}

func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

func (c AudioConfig) DecodeTimeout() time.Duration {
	return time.Duration(c.DecodeTimeoutMS) * time.Millisecond
}

func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c TTSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c TranscriptsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLH) * time.Hour
}
