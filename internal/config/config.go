// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the environment-variable configuration described
// in spec.md §6. It mirrors the original Chinadas core/config.py: a flat
// set of process-wide settings populated from the environment, with a
// .env file loaded first if present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type KafkaConfig struct {
	Servers              string
	Security             string
	Mechanism            string
	Username             string
	Password             string
	GroupID              string
	AutoOffsetReset      string
	EnableAutoCommit     bool
	AutoCommitIntervalMS int
	SessionTimeoutMS     int
	RequestTimeoutMS     int
}

type SmartTyreConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	SignKey      string
}

type Config struct {
	MySQLURI  string
	MongoURI  string
	Kafka     KafkaConfig
	SmartTyre SmartTyreConfig

	// HTTPAddr is not part of spec.md's enumerated env vars; it keeps the
	// teacher's convention of a sensible compiled-in default for the
	// listen address instead of hardcoding it at the call site.
	HTTPAddr string
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load reads a .env file (if present) and then the process environment,
// returning a populated Config. Missing MYSQL_URI or MONGO_URI is a fatal
// configuration error per spec.md §7 ("Fatal: configuration absent at
// startup").
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := &Config{
		MySQLURI: os.Getenv("MYSQL_URI"),
		MongoURI: os.Getenv("MONGO_URI"),
		Kafka: KafkaConfig{
			Servers:              os.Getenv("KAFKA_SERVERS"),
			Security:             os.Getenv("KAFKA_SECURITY"),
			Mechanism:            os.Getenv("KAFKA_MECHANISM"),
			Username:             os.Getenv("KAFKA_USERNAME"),
			Password:             os.Getenv("KAFKA_PASSWORD"),
			GroupID:              os.Getenv("KAFKA_GROUP_ID"),
			AutoOffsetReset:      getenvDefault("KAFKA_AUTO_OFFSET_RESET", "latest"),
			EnableAutoCommit:     getenvBoolDefault("KAFKA_ENABLE_AUTO_COMMIT", true),
			AutoCommitIntervalMS: getenvIntDefault("KAFKA_AUTO_COMMIT_INTERVAL_MS", 1000),
			SessionTimeoutMS:     getenvIntDefault("KAFKA_SESSION_TIMEOUT_MS", 120000),
			RequestTimeoutMS:     getenvIntDefault("KAFKA_REQUEST_TIMEOUT_MS", 180000),
		},
		SmartTyre: SmartTyreConfig{
			BaseURL:      os.Getenv("SMARTTYRE_BASE_URL"),
			ClientID:     os.Getenv("SMARTTYRE_CLIENT_ID"),
			ClientSecret: os.Getenv("SMARTTYRE_CLIENT_SECRET"),
			SignKey:      os.Getenv("SMARTTYRE_SIGN_KEY"),
		},
		HTTPAddr: getenvDefault("TIREWATCH_ADDR", ":8080"),
	}

	if cfg.MySQLURI == "" {
		return nil, fmt.Errorf("config: MYSQL_URI is required")
	}
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("config: MONGO_URI is required")
	}

	return cfg, nil
}
