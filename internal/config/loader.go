package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/spf13/viper"
)

const envPrefix = "BUILDTRACK"

// Config is the full server configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

type LogConfig struct {
	Mode  string
	Level string
}

// StorageConfig selects the repository backend. "memory" keeps everything in
// process and skips the database entirely.
type StorageConfig struct {
	Driver        string
	RunMigrations bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxBodyBytes:   2 << 20,
		},
		Log: LogConfig{Mode: "dev", Level: "debug"},
		Storage: StorageConfig{
			Driver:        "postgres",
			RunMigrations: true,
		},
	}
}

var keys = []string{
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.maxconns",
	"server.addr",
	"server.readtimeout",
	"server.writetimeout",
	"server.idletimeout",
	"server.allowedorigins",
	"server.maxbodybytes",
	"log.mode",
	"log.level",
	"storage.driver",
	"storage.runmigrations",
}

// Load reads config.yaml from configPath (if present) and applies BUILDTRACK_* env overrides,
// e.g. BUILDTRACK_DATABASE_HOST or BUILDTRACK_STORAGE_DRIVER.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.maxconns") {
		cfg.Database.MaxConns = v.GetInt32("database.maxconns")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.readtimeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.readtimeout")
	}
	if v.IsSet("server.writetimeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.writetimeout")
	}
	if v.IsSet("server.idletimeout") {
		cfg.Server.IdleTimeout = v.GetDuration("server.idletimeout")
	}
	if v.IsSet("server.allowedorigins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowedorigins")
	}
	if v.IsSet("server.maxbodybytes") {
		cfg.Server.MaxBodyBytes = v.GetInt64("server.maxbodybytes")
	}

	if v.IsSet("log.mode") {
		cfg.Log.Mode = v.GetString("log.mode")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}

	if v.IsSet("storage.driver") {
		cfg.Storage.Driver = strings.ToLower(v.GetString("storage.driver"))
	}
	if v.IsSet("storage.runmigrations") {
		cfg.Storage.RunMigrations = v.GetBool("storage.runmigrations")
	}

	switch cfg.Storage.Driver {
	case "postgres", "memory":
	default:
		return Config{}, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	return cfg, nil
}
