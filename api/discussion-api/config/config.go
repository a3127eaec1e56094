// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Secret   string `mapstructure:"secret" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path" validate:"required"`

	RedisConfig RedisConfig `mapstructure:"redis" validate:"required"`

	// Gemini assessment backend. An empty key disables scoring; calls still
	// run, turns just receive the neutral placeholder.
	GeminiApiKey    string `mapstructure:"gemini_api_key"`
	AssessmentModel string `mapstructure:"assessment_model"`

	// TurnBudgetSeconds is how long one speaker holds the floor.
	TurnBudgetSeconds int `mapstructure:"turn_budget_seconds" validate:"required,gt=0"`

	// TopicsHost serves the discussion topic catalog.
	TopicsHost string `mapstructure:"topics_host"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

// TurnBudget returns the configured per-turn budget as a duration.
func (c *AppConfig) TurnBudget() time.Duration {
	return time.Duration(c.TurnBudgetSeconds) * time.Second
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "discussion-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9096)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "/tmp/vocalab")

	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("ASSESSMENT_MODEL", "gemini-1.5-flash")
	v.SetDefault("TURN_BUDGET_SECONDS", 120)
	v.SetDefault("TOPICS_HOST", "")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DATABASE", 0)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
