// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"github.com/vishant8491/Kawach/pkg/validators"
)

var (
	configPath  = pflag.String("config", "", "Path to the config file. Defaults to ./config.toml")
	migrateOnly = pflag.Bool("migrate-only", false, "Migrate the database and exit")

	validLogLevels    = []string{"debug", "info", "warn", "error", "fatal"}
	validLogFormats   = []string{"console", "json"}
	validStorageTypes = []string{"s3", "r2", "local"}
	validDrivers      = []string{"sqlite", "postgres"}
)

// MigrateOnly reports whether the app was started just to migrate the database
func MigrateOnly() bool {
	return *migrateOnly
}

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// SetDefaults registers the default value of every key
func SetDefaults() {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.public_url", "http://localhost:8080")
	v.SetDefault("host.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("host.ssl.enabled", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "database.db")

	v.SetDefault("jwt.ttl", 30*24*time.Hour)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "storage")

	v.SetDefault("upload.max_size", 10)
	v.SetDefault("upload.allowed_types", validators.DefaultAllowedTypes)

	v.SetDefault("token.validity_minutes", 60)
	v.SetDefault("token.max_validity_minutes", 24*60)
	v.SetDefault("token.retention", time.Hour)

	v.SetDefault("qr.size", 400)
	v.SetDefault("qr.display_seconds", 60)

	v.SetDefault("redeem.retries", 3)
	v.SetDefault("redeem.retry_backoff", 200*time.Millisecond)

	v.SetDefault("security.rate_limit", 20)

	v.SetDefault("cleanup.schedule", "@every 1h")
	v.SetDefault("cache.ttl", time.Minute)

	v.SetDefault("cloudflare.turnstile.enabled", false)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that. Flags must be parsed before calling it
func Setup() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file, %w", err)
	}

	v.BindPFlags(pflag.CommandLine)

	if *configPath != "" {
		v.SetConfigFile(*configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("jwt.secret", "JWT_SECRET", "SECURITY_JWT_SECRET")
	v.BindEnv("database.dsn", "DATABASE_DSN", "DB_URL")
	v.BindEnv("host.cors_origins", "HOST_CORS")

	v.BindEnv("aws.access_key", "AWS_ACCESS_KEY_ID")
	v.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("aws.region", "AWS_REGION")

	v.BindEnv("cloudflare.turnstile.enabled", "TURNSTILE_ENABLED")
	v.BindEnv("cloudflare.turnstile.secret_token", "TURNSTILE_SECRET_TOKEN")

	SetDefaults()

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		fmt.Println("[WARNING]: No config.toml found, using defaults and environment variables")
	}

	if v.GetString("jwt.secret") == "" {
		fmt.Println("WARNING: You haven't set a JWT secret, so it has been generated for you. Please set it as an environment variable or in the config.toml file.\nYour random JWT secret:\n\n" + genSecret() + "\n\nPaste it into your config.toml file.")
		os.Exit(0)
	}

	if err := Validate(); err != nil {
		return err
	}

	if !v.GetBool("cloudflare.turnstile.enabled") {
		fmt.Println("[WARNING]: Cloudflare's turnstile is disabled. Some public endpoints won't be guarded against bots")
	}

	Normalize()
	return nil
}

// Validate checks the loaded values and returns the first problem found
func Validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if !slices.Contains(validLogFormats, v.GetString("app.log_format")) {
		return errors.New("invalid log format provided")
	}

	if v.GetInt("host.port") <= 0 || v.GetInt("host.port") > 65535 {
		return errors.New("invalid port provided")
	}

	if v.GetString("host.public_url") == "" {
		return errors.New("host.public_url can't be empty")
	}

	if v.GetBool("host.ssl.enabled") {
		if v.GetString("host.ssl.certificate_path") == "" {
			return errors.New("no ssl certificate path provided")
		}

		if v.GetString("host.ssl.certificate_key_path") == "" {
			return errors.New("no ssl certificate key path provided")
		}
	}

	if !slices.Contains(validDrivers, v.GetString("database.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("database.driver") == "postgres" && v.GetString("database.dsn") == "" {
		return errors.New("no postgres dsn provided")
	}

	if v.GetDuration("jwt.ttl") <= 0 {
		return errors.New("jwt.ttl must be bigger than 0")
	}

	switch v.GetString("storage.type") {
	case "s3":
		if v.GetString("aws.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
		if v.GetString("aws.region") == "" && v.GetString("aws.endpoint") == "" {
			return errors.New("aws region can't be empty")
		}
	case "r2":
		if v.GetString("cloudflare.account_id") == "" {
			return errors.New("account id can't be empty")
		}
		if v.GetString("cloudflare.access_key_id") == "" {
			return errors.New("account access id can't be empty")
		}
		if v.GetString("cloudflare.secret_access_key") == "" {
			return errors.New("secret access key can't be empty")
		}
		if v.GetString("cloudflare.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
	case "local":
		if v.GetString("storage.local_path") == "" {
			return errors.New("storage.local_path can't be empty")
		}
	}

	if !slices.Contains(validStorageTypes, v.GetString("storage.type")) {
		return errors.New("invalid storage type provided")
	}

	if v.GetInt64("upload.max_size") <= 0 {
		return errors.New("max upload size must be bigger than 0")
	}

	for _, t := range v.GetStringSlice("upload.allowed_types") {
		if !slices.Contains(validators.DefaultAllowedTypes, strings.ToLower(t)) {
			return fmt.Errorf("unsupported upload type %q", t)
		}
	}

	validity := v.GetInt("token.validity_minutes")
	if validity <= 0 {
		return errors.New("token.validity_minutes must be bigger than 0")
	}

	if validity > v.GetInt("token.max_validity_minutes") {
		return errors.New("token.validity_minutes can't be bigger than token.max_validity_minutes")
	}

	if v.GetDuration("token.retention") < time.Hour {
		return errors.New("token.retention must be at least 1h")
	}

	if v.GetInt("qr.size") < 64 {
		return errors.New("qr.size must be at least 64 pixels")
	}

	if v.GetInt("qr.display_seconds") <= 0 {
		return errors.New("qr.display_seconds must be bigger than 0")
	}

	if v.GetInt("redeem.retries") < 1 {
		return errors.New("redeem.retries must be at least 1")
	}

	if v.GetInt("security.rate_limit") <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if v.GetBool("cloudflare.turnstile.enabled") && v.GetString("cloudflare.turnstile.secret_token") == "" {
		return errors.New("turnstile secret token is missing")
	}

	return nil
}

// Normalize converts values that are configured in human friendly units
func Normalize() {
	v.Set("upload.max_size", v.GetInt64("upload.max_size")<<20)

	types := v.GetStringSlice("upload.allowed_types")
	for i := range types {
		types[i] = strings.ToLower(types[i])
	}
	v.Set("upload.allowed_types", types)

	if v.GetString("host.frontend_url") == "" {
		v.Set("host.frontend_url", v.GetString("host.public_url"))
	}
}
