package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quiz-sync/internal/game"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Session struct {
		HandshakeTimeout string `yaml:"handshakeTimeout"`
		ConfirmTimeout   string `yaml:"confirmTimeout"`
	} `yaml:"session"`
	Scoring struct {
		DifficultyPoints map[int]int `yaml:"difficultyPoints"`
		DefaultPoints    int         `yaml:"defaultPoints"`
		ChoiceBase       int         `yaml:"choiceBase"`
		SpeedBonuses     []int       `yaml:"speedBonuses"`
	} `yaml:"scoring"`
	Shuffle struct {
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"shuffle"`
	Packs struct {
		Dir string `yaml:"dir"`
		TTL string `yaml:"ttl"`
	} `yaml:"packs"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
}

// Load reads YAML config from path. A missing file yields the zero config,
// so a host can run entirely on defaults and flags.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty/bad.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// ScoringConfig applies configured overrides on top of the defaults.
func (c Config) ScoringConfig() game.ScoringConfig {
	sc := game.DefaultScoring()
	if len(c.Scoring.DifficultyPoints) > 0 {
		sc.DifficultyPoints = c.Scoring.DifficultyPoints
	}
	if c.Scoring.DefaultPoints > 0 {
		sc.DefaultPoints = c.Scoring.DefaultPoints
	}
	if c.Scoring.ChoiceBase > 0 {
		sc.ChoiceBase = c.Scoring.ChoiceBase
	}
	if len(c.Scoring.SpeedBonuses) > 0 {
		sc.SpeedBonuses = c.Scoring.SpeedBonuses
	}
	return sc
}
