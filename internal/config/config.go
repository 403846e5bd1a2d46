/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the drop-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	AssetEventQueue      string `mapstructure:"ASSET_EVENT_QUEUE"`
	AuthJWKSURL          string `mapstructure:"AUTH_JWKS_URL"`

	RegistryBaseURL        string `mapstructure:"REGISTRY_BASE_URL"`
	RegistryTimeoutSeconds int    `mapstructure:"REGISTRY_TIMEOUT_SECONDS"`
	TokenIssuerURL         string `mapstructure:"TOKEN_ISSUER_URL"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`

	// Admission fee schedule defaults, applied when a funder has no
	// per-funder schedule on record.
	DropFee uint64 `mapstructure:"DROP_FEE"`
	KeyFee  uint64 `mapstructure:"KEY_FEE"`

	// Cost model constants.
	StorageCostPerByte      uint64 `mapstructure:"STORAGE_COST_PER_BYTE"`
	KeyStorageCost          uint64 `mapstructure:"KEY_STORAGE_COST"`
	AllowancePerComputeUnit uint64 `mapstructure:"ALLOWANCE_PER_COMPUTE_UNIT"`
	DefaultComputeBudget    uint64 `mapstructure:"DEFAULT_COMPUTE_BUDGET"`
	MaxComputeBudget        uint64 `mapstructure:"MAX_COMPUTE_BUDGET"`
	FCExecuteComputeOffset  uint64 `mapstructure:"FC_EXECUTE_COMPUTE_OFFSET"`

	// Pessimistic per-use estimate debited before the registry round trip.
	FTRegistrationCostEstimate uint64 `mapstructure:"FT_REGISTRATION_COST_ESTIMATE"`

	MaxKeysPerBatch  int    `mapstructure:"MAX_KEYS_PER_BATCH"`
	MaxUsesPerKey    uint64 `mapstructure:"MAX_USES_PER_KEY"`
	MaxDepositPerUse uint64 `mapstructure:"MAX_DEPOSIT_PER_USE"`

	AdmissionRateLimitPerMinute int `mapstructure:"ADMISSION_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ASSET_EVENT_QUEUE", "drop_service.asset_funding")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "keydrop:rate_limit")
	viper.SetDefault("REGISTRY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("DROP_FEE", 0)
	viper.SetDefault("KEY_FEE", 0)
	viper.SetDefault("STORAGE_COST_PER_BYTE", 10_000_000_000)
	viper.SetDefault("KEY_STORAGE_COST", 0)
	viper.SetDefault("ALLOWANCE_PER_COMPUTE_UNIT", 1)
	viper.SetDefault("DEFAULT_COMPUTE_BUDGET", 100_000_000_000_000)
	viper.SetDefault("MAX_COMPUTE_BUDGET", 300_000_000_000_000)
	viper.SetDefault("FC_EXECUTE_COMPUTE_OFFSET", 20_000_000_000_000)
	viper.SetDefault("FT_REGISTRATION_COST_ESTIMATE", 0)
	viper.SetDefault("MAX_KEYS_PER_BATCH", 100)
	viper.SetDefault("MAX_USES_PER_KEY", 10_000)
	viper.SetDefault("MAX_DEPOSIT_PER_USE", uint64(1_000_000_000_000_000_000))
	viper.SetDefault("ADMISSION_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DROP_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ASSET_EVENT_QUEUE")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("REGISTRY_BASE_URL")
	_ = viper.BindEnv("REGISTRY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("TOKEN_ISSUER_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "DROP_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DROP_FEE")
	_ = viper.BindEnv("KEY_FEE")
	_ = viper.BindEnv("STORAGE_COST_PER_BYTE")
	_ = viper.BindEnv("KEY_STORAGE_COST")
	_ = viper.BindEnv("ALLOWANCE_PER_COMPUTE_UNIT")
	_ = viper.BindEnv("DEFAULT_COMPUTE_BUDGET")
	_ = viper.BindEnv("MAX_COMPUTE_BUDGET")
	_ = viper.BindEnv("FC_EXECUTE_COMPUTE_OFFSET")
	_ = viper.BindEnv("FT_REGISTRATION_COST_ESTIMATE")
	_ = viper.BindEnv("MAX_KEYS_PER_BATCH")
	_ = viper.BindEnv("MAX_USES_PER_KEY")
	_ = viper.BindEnv("MAX_DEPOSIT_PER_USE")
	_ = viper.BindEnv("ADMISSION_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("DROP_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "keydrop:rate_limit"
	}

	if config.RegistryTimeoutSeconds <= 0 {
		config.RegistryTimeoutSeconds = 30
	}
	if config.MaxKeysPerBatch <= 0 {
		config.MaxKeysPerBatch = 100
	}
	if config.MaxUsesPerKey == 0 {
		config.MaxUsesPerKey = 10_000
	}
	if config.MaxDepositPerUse == 0 {
		config.MaxDepositPerUse = 1_000_000_000_000_000_000
	}
	if config.AdmissionRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative admission rate limit configured; disabling\" limit=%d", config.AdmissionRateLimitPerMinute)
		config.AdmissionRateLimitPerMinute = 0
	}
	if config.MaxComputeBudget == 0 {
		config.MaxComputeBudget = 300_000_000_000_000
	}
	if config.DefaultComputeBudget == 0 {
		config.DefaultComputeBudget = 100_000_000_000_000
	}
	if config.DefaultComputeBudget > config.MaxComputeBudget {
		log.Printf("level=warn component=config msg=\"default compute budget exceeds ceiling; capping\" default=%d max=%d",
			config.DefaultComputeBudget, config.MaxComputeBudget)
		config.DefaultComputeBudget = config.MaxComputeBudget
	}

	return
}
