// Package config provides configuration loading, validation, and defaults
// for the curator service. Values come from defaults, an optional YAML file,
// and LDNA_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all
// components: logging, HTTP server, the Gemini client, the transcript
// store, the message database, the admin gate, and scheduled tasks.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Server     ServerConfig     `mapstructure:"server"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Session    SessionConfig    `mapstructure:"session"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=1m"`
}

// GeminiConfig configures the hosted model client. APIKey is mandatory;
// the service refuses to start without it. Models is the ordered fallback
// list tried when opening a chat session.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"     validate:"required"`
	Models      []string      `mapstructure:"models"      validate:"min=1,dive,required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	Persona     string        `mapstructure:"persona"     validate:"required"`
}

type TranscriptConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// AdminConfig holds the gate credentials. Both must be set to enable the
// admin view; there is deliberately no built-in default.
type AdminConfig struct {
	ID       string `mapstructure:"id"`
	Password string `mapstructure:"password"`
}

// Enabled reports whether both credentials are configured.
func (a AdminConfig) Enabled() bool {
	return a.ID != "" && a.Password != ""
}

type SessionConfig struct {
	MaxIdle time.Duration `mapstructure:"max_idle" validate:"min=1m"`
}

// SchedulerConfig maps task names to their schedules. Known tasks:
// reap_sessions, db_maintenance.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// defaultPersona is the curator policy block injected once per chat
// session, carried over verbatim from the original survey deployment.
const defaultPersona = `당신은 'AI 프리미엄 라이프스타일 큐레이터'입니다.
[원칙]
1. 사용자의 입력 정보(나이, 지역, 예산)를 바탕으로 맞춤형 대화를 시작하십시오.
2. 기계적인 질문 나열 금지. 전문 상담가처럼 공감하며 하나씩 대화하십시오.
3. 구글 맵 평점 4.5 이상의 실존 장소만 추천하십시오.`

// LoadConfig reads configuration from the YAML file at path (a missing
// file is fine, defaults apply), overlays LDNA_* environment variables,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LDNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment variables need explicit binding when no config file
	// supplies the keys; viper only auto-binds keys it has seen.
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// boundKeys lists the secret-bearing keys expected to arrive via the
// environment in production deployments.
var boundKeys = []string{
	"gemini.api_key",
	"admin.id",
	"admin.password",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("gemini.models", []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-pro"})
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.timeout", 2*time.Minute)
	v.SetDefault("gemini.persona", defaultPersona)

	v.SetDefault("transcript.path", "user_data_log.csv")
	v.SetDefault("database.path", "storage.db")

	v.SetDefault("session.max_idle", 2*time.Hour)

	v.SetDefault("scheduler.tasks.reap_sessions.enabled", true)
	v.SetDefault("scheduler.tasks.reap_sessions.schedule", "*/10 * * * *")
	v.SetDefault("scheduler.tasks.db_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.db_maintenance.schedule", "0 4 * * *")
}
