package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int    `yaml:"port"`
	Origin      string `yaml:"origin"`
	Host        string `yaml:"host"`
	Provider    string `yaml:"provider"`
	DBFile      string `yaml:"dbFile"`
	RedisAddr   string `yaml:"redisAddr"`
	Lifespan    string `yaml:"lifespan"`
	MaxBodySize int    `yaml:"maxBodySize"`
	Fallback    bool   `yaml:"fallbackOnError"`
	Invalidate  bool   `yaml:"allowInvalidation"`
	AgeHeader   bool   `yaml:"ageHeader"`
	Coalesce    bool   `yaml:"coalesce"`
	Retention   string `yaml:"retention"`
	GCInterval  string `yaml:"gcInterval"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// duration parses a duration string, returning fallback when empty.
func duration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
