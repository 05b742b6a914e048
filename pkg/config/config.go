package config

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the orchestrator configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Chains       []ChainConfig      `mapstructure:"chains" validate:"min=2,dive"`
	Celer        CelerConfig        `mapstructure:"celer"`
	Nxtp         NxtpConfig         `mapstructure:"nxtp"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Shutdown     ShutdownConfig     `mapstructure:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host" default:"0.0.0.0"`
	Port int    `mapstructure:"port" default:"8080"`
}

// DatabaseConfig contains PostgreSQL connection settings. An empty host
// disables persistence; the registry then lives in memory only.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" default:"5432"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" default:"bridge_orchestrator"`
	SSLMode  string `mapstructure:"ssl_mode" default:"disable"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ChainConfig contains per-chain EVM client settings
type ChainConfig struct {
	ChainID         int64         `mapstructure:"chain_id" validate:"required,gt=0"`
	RPCURL          string        `mapstructure:"rpc_url" validate:"required,url"`
	PrivateKey      string        `mapstructure:"private_key" validate:"required"`
	GasLimit        uint64        `mapstructure:"gas_limit" default:"300000"`
	MaxGasPrice     string        `mapstructure:"max_gas_price"`
	ConfirmInterval time.Duration `mapstructure:"confirm_interval" default:"3s"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout" default:"5m"`
}

// CelerConfig contains cBridge adapter settings
type CelerConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	GatewayURL    string           `mapstructure:"gateway_url"`
	PoolContracts map[int64]string `mapstructure:"pool_contracts"`
	QuoteTTL      time.Duration    `mapstructure:"quote_ttl" default:"5m"`
	Slippage      string           `mapstructure:"slippage" default:"0.005"`
}

// NxtpConfig contains nxtp adapter settings
type NxtpConfig struct {
	Enabled             bool             `mapstructure:"enabled"`
	RouterURL           string           `mapstructure:"router_url"`
	TransactionManagers map[int64]string `mapstructure:"transaction_managers"`
	QuoteTTL            time.Duration    `mapstructure:"quote_ttl" default:"5m"`
	PrepareWindow       time.Duration    `mapstructure:"prepare_window" default:"48h"`
}

// OrchestratorConfig contains state machine timing and retry settings
type OrchestratorConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" default:"10s"`
	PollGrace           time.Duration `mapstructure:"poll_grace" default:"10m"`
	MaxAttempts         int           `mapstructure:"max_attempts" default:"3"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay" default:"10s"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay" default:"2m"`
	MaxTransferDuration time.Duration `mapstructure:"max_transfer_duration" default:"1h"`
	// EvictAfter prunes terminal records older than this from memory.
	// Zero disables eviction.
	EvictAfter time.Duration `mapstructure:"evict_after" default:"24h"`
}

// AuthConfig contains API authentication settings. An empty secret
// disables authentication.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer" default:"bridge-orchestrator"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" default:"24h"`
}

// Enabled reports whether API authentication is configured.
func (c *AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port" default:"9090"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" default:"info"`
	Format     string `mapstructure:"format" default:"json"`
	OutputPath string `mapstructure:"output_path" default:"stdout"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout" default:"30s"`
}

var validate = validator.New()

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Struct-tag defaults fill whatever the file left unset.
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults registers defaults that must go through viper. Struct-tag
// defaults cannot represent true-by-default booleans: an explicit false in
// the file is indistinguishable from unset and would be overwritten.
func setDefaults() {
	viper.SetDefault("monitoring.enabled", true)
}

func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}
	if !config.Celer.Enabled && !config.Nxtp.Enabled {
		return fmt.Errorf("at least one bridge backend must be enabled")
	}
	if config.Celer.Enabled && config.Celer.GatewayURL == "" {
		return fmt.Errorf("celer.gateway_url is required when celer is enabled")
	}
	if config.Nxtp.Enabled && config.Nxtp.RouterURL == "" {
		return fmt.Errorf("nxtp.router_url is required when nxtp is enabled")
	}
	seen := make(map[int64]bool, len(config.Chains))
	for _, chain := range config.Chains {
		if seen[chain.ChainID] {
			return fmt.Errorf("duplicate chain_id %d", chain.ChainID)
		}
		seen[chain.ChainID] = true
	}
	return nil
}
