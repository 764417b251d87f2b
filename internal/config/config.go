package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config carries the service configuration. The filler allow-list and the
// admin identity seed the version-stamped policy record on first boot; after
// that the policy table is authoritative.
type Config struct {
	Port              string
	DatabaseDSN       string
	JWTSecret         string
	Admin             string
	Self              string
	Fillers           []string
	LoyaltyToken      string
	TransferURL       string
	ResponseBlockSize int
	DispatchInterval  time.Duration
}

// Load reads configuration from .env and the environment.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Debug().Err(err).Msg("no config file found, using environment")
	}

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DATABASE_DSN", "atomex.db")
	viper.SetDefault("JWT_SECRET", "atomex-secret-key")
	viper.SetDefault("ADMIN_ID", "admin")
	viper.SetDefault("SELF_ID", "atomex")
	viper.SetDefault("LOYALTY_TOKEN", "LOYAL")
	viper.SetDefault("RESPONSE_BLOCK_SIZE", 256)
	viper.SetDefault("DISPATCH_INTERVAL", "5s")

	cfg := &Config{
		Port:              viper.GetString("PORT"),
		DatabaseDSN:       viper.GetString("DATABASE_DSN"),
		JWTSecret:         viper.GetString("JWT_SECRET"),
		Admin:             viper.GetString("ADMIN_ID"),
		Self:              viper.GetString("SELF_ID"),
		LoyaltyToken:      viper.GetString("LOYALTY_TOKEN"),
		TransferURL:       viper.GetString("TRANSFER_URL"),
		ResponseBlockSize: viper.GetInt("RESPONSE_BLOCK_SIZE"),
		DispatchInterval:  viper.GetDuration("DISPATCH_INTERVAL"),
	}

	if fillers := viper.GetString("FILLERS"); fillers != "" {
		cfg.Fillers = strings.Split(fillers, ",")
	}

	return cfg
}
