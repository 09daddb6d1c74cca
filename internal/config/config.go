package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	Store    StoreConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Canteen  CanteenConfig
}

// StoreConfig selects which backend the dashboard runs against.
type StoreConfig struct {
	Backend string // memory, redis or postgres
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// DSN builds the connection string used both by database/sql and by the
// LISTEN connection of the postgres backend.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// CanteenConfig carries the business settings: which timezone defines the
// daily rollover and which emails hold the admin role.
type CanteenConfig struct {
	Timezone    string
	AdminEmails []string
}

// Location resolves the configured timezone. Daily counters partition by
// this location's calendar date, not UTC.
func (c CanteenConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func Load() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("STORE_BACKEND", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_KEY_PREFIX", "cantina")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_DATABASE", "cantina")
	viper.SetDefault("CANTEEN_TIMEZONE", "America/Sao_Paulo")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Env: viper.GetString("APP_ENV"),
		Store: StoreConfig{
			Backend: viper.GetString("STORE_BACKEND"),
		},
		Redis: RedisConfig{
			Addr:      viper.GetString("REDIS_ADDR"),
			Password:  viper.GetString("REDIS_PASSWORD"),
			DB:        viper.GetInt("REDIS_DB"),
			KeyPrefix: viper.GetString("REDIS_KEY_PREFIX"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
		},
		Canteen: CanteenConfig{
			Timezone:    viper.GetString("CANTEEN_TIMEZONE"),
			AdminEmails: splitList(viper.GetString("ADMIN_EMAILS")),
		},
	}
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
