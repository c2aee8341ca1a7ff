package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/tabimport/internal/db"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string
}

// PipelineConfig holds migration pipeline behavior switches.
type PipelineConfig struct {
	// AllowCommitFromValidated lets a job be committed straight from
	// VALIDATED, bypassing the approval gate. Off by default: approval
	// is mandatory in production flow.
	AllowCommitFromValidated bool
	// StagingChunkSize is the number of rows staged per bulk insert.
	StagingChunkSize int
}

// Config is the full application configuration.
type Config struct {
	DB       db.Config
	Server   ServerConfig
	Pipeline PipelineConfig
}

// Defaults returns the baked-in configuration used when no config file
// or environment overrides are present.
func Defaults() Config {
	return Config{
		DB:     db.DefaultConfig(),
		Server: ServerConfig{Addr: ":8080"},
		Pipeline: PipelineConfig{
			AllowCommitFromValidated: false,
			StagingChunkSize:         500,
		},
	}
}

// Load reads config.yaml from the given path with environment
// overrides. A .env file is loaded first when present so local setups
// match deployed ones.
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on process environment")
	}

	cfg := Defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("TABIMPORT")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("pipeline.allow_commit_from_validated")
	v.BindEnv("pipeline.staging_chunk_size")

	if err := v.ReadInConfig(); err != nil {
		log.Println("No config.yaml found, using defaults and env vars")
	} else {
		log.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("pipeline.allow_commit_from_validated") {
		cfg.Pipeline.AllowCommitFromValidated = v.GetBool("pipeline.allow_commit_from_validated")
	}
	if v.IsSet("pipeline.staging_chunk_size") {
		cfg.Pipeline.StagingChunkSize = v.GetInt("pipeline.staging_chunk_size")
	}

	return cfg, nil
}
