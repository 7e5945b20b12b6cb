// Package config reads service settings from .env, the environment and an
// optional grader.yaml file, in increasing order of precedence: file values
// are overridden by the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/aigrader"
	"call-grader-go/internal/rubric"
	"call-grader-go/internal/store"
	"call-grader-go/internal/transcript"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	RubricPath    string
	SynonymsPath  string
	QuestionsPath string

	AskerSpeakers     []transcript.SpeakerID
	ResponderSpeakers []transcript.SpeakerID
	PartialCredit     bool

	DBDriver string
	DBDSN    string

	LLMGatewayURL string
	LLMModel      string
	LLMAPIKey     string
	LLMTimeout    time.Duration

	CORSOrigins      []string
	BatchConcurrency int
	CallTimeout      time.Duration
}

// Options controls where Load looks. Zero values use the defaults.
type Options struct {
	// EnvFiles are loaded with godotenv before reading the environment.
	EnvFiles []string
	// ConfigFile is an explicit config file; otherwise GRADER_CONFIG or
	// ./grader.yaml if present.
	ConfigFile string
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("rubric_path", "config/rubric.yaml")
	v.SetDefault("synonyms_path", "config/synonyms.yaml")
	v.SetDefault("questions_path", "")
	v.SetDefault("grader_asker_speakers", "")
	v.SetDefault("grader_responder_speakers", "")
	v.SetDefault("grader_partial_credit", true)
	v.SetDefault("db_driver", string(store.DriverSQLite))
	v.SetDefault("db_dsn", "")
	v.SetDefault("llm_gateway_url", "")
	v.SetDefault("llm_model", "llama3.1:8b")
	v.SetDefault("llm_api_key", "")
	v.SetDefault("llm_timeout", "25s")
	v.SetDefault("cors_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("batch_concurrency", 4)
	v.SetDefault("call_timeout", "30s")
}

// Load reads the configuration.
func Load(opts Options) (Config, error) {
	if len(opts.EnvFiles) > 0 {
		if err := godotenv.Load(opts.EnvFiles...); err != nil {
			return Config{}, fmt.Errorf("config: env files: %w", err)
		}
	} else {
		_ = godotenv.Load() // optional .env
	}

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" {
		file = v.GetString("grader_config")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("grader")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := Config{
		Port:              v.GetString("port"),
		Environment:       v.GetString("environment"),
		LogLevel:          v.GetString("log_level"),
		RubricPath:        v.GetString("rubric_path"),
		SynonymsPath:      v.GetString("synonyms_path"),
		QuestionsPath:     v.GetString("questions_path"),
		AskerSpeakers:     speakers(stringList(v, "grader_asker_speakers")),
		ResponderSpeakers: speakers(stringList(v, "grader_responder_speakers")),
		PartialCredit:     v.GetBool("grader_partial_credit"),
		DBDriver:          strings.ToLower(v.GetString("db_driver")),
		DBDSN:             v.GetString("db_dsn"),
		LLMGatewayURL:     v.GetString("llm_gateway_url"),
		LLMModel:          v.GetString("llm_model"),
		LLMAPIKey:         v.GetString("llm_api_key"),
		LLMTimeout:        v.GetDuration("llm_timeout"),
		CORSOrigins:       stringList(v, "cors_origins"),
		BatchConcurrency:  v.GetInt("batch_concurrency"),
		CallTimeout:       v.GetDuration("call_timeout"),
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	switch store.Driver(cfg.DBDriver) {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return Config{}, fmt.Errorf("config: unsupported db_driver %q", cfg.DBDriver)
	}
	return cfg, nil
}

// stringList accepts a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch t := v.Get(key).(type) {
	case []interface{}:
		for _, e := range t {
			raw = append(raw, fmt.Sprint(e))
		}
	case []string:
		raw = t
	default:
		raw = strings.Split(v.GetString(key), ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func speakers(list []string) []transcript.SpeakerID {
	var out []transcript.SpeakerID
	for _, s := range list {
		out = append(out, transcript.SpeakerID(s))
	}
	return out
}

// Roles is the configured speaker mapping. It is zero when neither list is
// set, and the rubric then keeps its own.
func (c Config) Roles() transcript.Roles {
	return transcript.Roles{Asker: c.AskerSpeakers, Responder: c.ResponderSpeakers}
}

func (c Config) Policy() aggregator.Policy {
	return aggregator.Policy{PartialCredit: c.PartialCredit}
}

func (c Config) RubricOptions() rubric.Options {
	return rubric.Options{LabelsPath: c.RubricPath, RulesPath: c.SynonymsPath}
}

func (c Config) AIGrader() aigrader.Config {
	return aigrader.Config{
		GatewayURL: c.LLMGatewayURL,
		Model:      c.LLMModel,
		APIKey:     c.LLMAPIKey,
		Timeout:    c.LLMTimeout,
	}
}
