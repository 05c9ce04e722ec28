// Package config loads typed configuration from the process environment.
// Every database, render, and bootstrap-user field is required and fails
// the process fast if missing or empty; the log level and OTel settings are
// optional and fall back to defaults. There is no file-based or remote
// config source, by design (see DESIGN.md: config is env-only).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig holds the Postgres connection parameters.
type DatabaseConfig struct {
	Host string
	Port int
	Name string
	User string
	Pass string
}

// RenderConfig holds the scratch directory and render binary location.
type RenderConfig struct {
	UploadFacility string
	BlenderBin     string
}

// UserAddConfig holds bootstrap-user credentials for cmd/renderfarm-useradd.
type UserAddConfig struct {
	GlacierUser     string
	GlacierPassword string
}

// OTelConfig is optional: when Endpoint is empty, tracing exports to
// stdout instead of an OTLP collector.
type OTelConfig struct {
	Endpoint    string
	ServiceName string
}

// Config is the full set of server configuration, assembled from the
// process environment in Load.
type Config struct {
	DB       DatabaseConfig
	Render   RenderConfig
	OTel     OTelConfig
	LogLevel string
}

// Load reads DatabaseConfig + RenderConfig (§6 of SPEC_FULL.md) from the
// environment. It fails fast: any missing or empty required field returns
// an error before the process does anything else.
func Load() (Config, error) {
	db, err := loadDatabaseConfig()
	if err != nil {
		return Config{}, err
	}
	render, err := loadRenderConfig()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		DB:       db,
		Render:   render,
		LogLevel: envOr("RENDERFARM_LOG_LEVEL", "info"),
		OTel: OTelConfig{
			Endpoint:    os.Getenv("RENDERFARM_OTEL_ENDPOINT"),
			ServiceName: envOr("RENDERFARM_OTEL_SERVICE_NAME", "renderfarmd"),
		},
	}
	return cfg, nil
}

// LoadDatabaseConfig reads just the DatabaseConfig fields, for callers like
// cmd/renderfarm-useradd that don't need the render-specific fields.
func LoadDatabaseConfig() (DatabaseConfig, error) {
	return loadDatabaseConfig()
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	host, err := requireEnv("DB_HOST")
	if err != nil {
		return DatabaseConfig{}, err
	}
	portRaw, err := requireEnv("DB_PORT")
	if err != nil {
		return DatabaseConfig{}, err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("config: DB_PORT %q is not an integer: %w", portRaw, err)
	}
	name, err := requireEnv("DB_NAME")
	if err != nil {
		return DatabaseConfig{}, err
	}
	user, err := requireEnv("DB_USER")
	if err != nil {
		return DatabaseConfig{}, err
	}
	pass, err := requireEnv("DB_PASS")
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{Host: host, Port: port, Name: name, User: user, Pass: pass}, nil
}

func loadRenderConfig() (RenderConfig, error) {
	uploadFacility, err := requireEnv("UPLOAD_FACILITY")
	if err != nil {
		return RenderConfig{}, err
	}
	blenderBin, err := requireEnv("BLENDER_BIN")
	if err != nil {
		return RenderConfig{}, err
	}
	return RenderConfig{UploadFacility: uploadFacility, BlenderBin: blenderBin}, nil
}

// LoadUserAddConfig reads the bootstrap-user credentials used by
// cmd/renderfarm-useradd. It does not require the render-specific fields.
func LoadUserAddConfig() (UserAddConfig, error) {
	user, err := requireEnv("GLACIER_USER")
	if err != nil {
		return UserAddConfig{}, err
	}
	pass, err := requireEnv("GLACIER_PASSWORD")
	if err != nil {
		return UserAddConfig{}, err
	}
	return UserAddConfig{GlacierUser: user, GlacierPassword: pass}, nil
}

func requireEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("config: required environment variable %s is not set", name)
	}
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is empty", name)
	}
	return v, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
