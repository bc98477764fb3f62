package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string // YAML key: "database"
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	WebSocket struct {
		Port int
	}
	Services struct {
		TrackingServicePort int
	}
	JWT struct {
		SecretKey string `yaml:"secret_key"`
	}
	Map struct {
		Provider        string // osm | esri | mapbox
		Style           string // streets | satellite
		MapboxToken     string
		ClusterRadiusPx int
		MaxZoom         int
	}
	Geocoder struct {
		Enabled    bool
		BaseURL    string
		DebounceMs int
	}
	Feed struct {
		Source  string // postgres | rabbitmq
		Channel string // pg NOTIFY channel name
	}
}

// LoadFromFile loads config from a YAML file to a Config struct, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// WebSocket
	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = 8080
	}

	// Services
	if cfg.Services.TrackingServicePort == 0 {
		cfg.Services.TrackingServicePort = 3000
	}

	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}

	// Map. A missing mapbox token is not defaulted: the service reports the
	// map as unavailable instead of guessing credentials.
	if cfg.Map.Provider == "" {
		cfg.Map.Provider = "osm"
	}
	if cfg.Map.Style == "" {
		cfg.Map.Style = "streets"
	}
	if cfg.Map.ClusterRadiusPx == 0 {
		cfg.Map.ClusterRadiusPx = 60
	}
	if cfg.Map.MaxZoom == 0 {
		cfg.Map.MaxZoom = 16
	}

	// Geocoder
	if cfg.Geocoder.BaseURL == "" {
		cfg.Geocoder.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Geocoder.DebounceMs == 0 {
		cfg.Geocoder.DebounceMs = 600
	}

	// Feed
	if cfg.Feed.Source == "" {
		cfg.Feed.Source = "postgres"
	}
	if cfg.Feed.Channel == "" {
		cfg.Feed.Channel = "vehicle_telemetry"
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.name is required")
	}

	// RabbitMQ (only required when it is the telemetry feed)
	if c.Feed.Source == "rabbitmq" {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required")
		}
	}

	// WebSocket
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		problems = append(problems, "websocket.port must be in 1..65535")
	}

	// Services
	if c.Services.TrackingServicePort <= 0 || c.Services.TrackingServicePort > 65535 {
		problems = append(problems, "services.tracking_service must be in 1..65535")
	}

	// Map
	switch c.Map.Provider {
	case "osm", "esri", "mapbox":
	default:
		problems = append(problems, "map.provider must be one of osm, esri, mapbox")
	}
	switch c.Map.Style {
	case "streets", "satellite":
	default:
		problems = append(problems, "map.style must be streets or satellite")
	}
	if c.Map.ClusterRadiusPx < 1 || c.Map.ClusterRadiusPx > 512 {
		problems = append(problems, "map.cluster_radius_px must be in 1..512")
	}
	if c.Map.MaxZoom < 1 || c.Map.MaxZoom > 22 {
		problems = append(problems, "map.max_zoom must be in 1..22")
	}

	// Geocoder
	if c.Geocoder.DebounceMs < 0 {
		problems = append(problems, "geocoder.debounce_ms must not be negative")
	}

	// Feed
	switch c.Feed.Source {
	case "postgres", "rabbitmq":
	default:
		problems = append(problems, "feed.source must be postgres or rabbitmq")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
