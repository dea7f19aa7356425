package config

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultPort             = "8080"
	DefaultRPCTimeout       = 15 * time.Second
	DefaultGasLimit         = 500000
	DefaultGasBufferPercent = 20

	GasModeEstimate = "estimate"
	GasModeFixed    = "fixed"

	FeeSourceRPC        = "rpc"
	FeeSourceGasStation = "gasstation"

	SignerLocal = "local"
	SignerKMS   = "kms"

	gasStationMainnet = "https://gasstation.polygon.technology/v2"
	gasStationTestnet = "https://gasstation-testnet.polygon.technology/v2"
)

// ErrStartupConfig marks configuration that must stop the process before it serves requests.
var ErrStartupConfig = errors.New("startup config error")

type KMSConfig struct {
	ProjectID          string
	Location           string
	KeyRingID          string
	KeyID              string
	KeyVersion         int
	CredentialFilePath string
}

type Config struct {
	Environment string
	Port        string
	LogLevel    string

	RPCEndpoint string
	RPCTimeout  time.Duration

	ContractAddress common.Address
	DomainName      string
	DomainVersion   string
	ChainID         *big.Int

	Signer            string
	RelayerPrivateKey string
	KMS               KMSConfig

	GasMode          string
	GasBufferPercent uint64
	GasLimit         uint64
	FeeSource        string
	GasStationURL    string
	GasPriority      string

	SerializeSigner bool
}

func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "local" || c.Environment == "development"
}

func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads the process configuration from the environment and an optional .env file.
// Every missing or malformed required value is reported in a single ErrStartupConfig error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn().Msgf("config.Load: failed to read .env: %v", err)
		}
	}
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "local")
	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RELAYER_SIGNER", SignerLocal)
	v.SetDefault("KMS_LOCATION", "asia-northeast1")
	v.SetDefault("KMS_KEY_VERSION", 1)
	v.SetDefault("GAS_MODE", GasModeEstimate)
	v.SetDefault("FEE_SOURCE", FeeSourceRPC)
	v.SetDefault("GAS_PRIORITY", "standard")

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var problems []string
	require := func(key string) string {
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			problems = append(problems, key+" is not set")
		}
		return val
	}

	cfg := &Config{
		Environment:   v.GetString("APP_ENV"),
		Port:          v.GetString("PORT"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		RPCEndpoint:   require("RPC_ENDPOINT"),
		DomainName:    require("DOMAIN_NAME"),
		DomainVersion: require("DOMAIN_VERSION"),
		Signer:        strings.ToLower(v.GetString("RELAYER_SIGNER")),
		GasMode:       strings.ToLower(v.GetString("GAS_MODE")),
		FeeSource:     strings.ToLower(v.GetString("FEE_SOURCE")),
		GasPriority:   v.GetString("GAS_PRIORITY"),
		GasStationURL: v.GetString("GAS_STATION_URL"),
	}

	if contract := require("CONTRACT_ADDRESS"); contract != "" {
		if !common.IsHexAddress(contract) {
			problems = append(problems, fmt.Sprintf("CONTRACT_ADDRESS is not a hex address: %q", contract))
		} else {
			cfg.ContractAddress = common.HexToAddress(contract)
		}
	}

	if chainID := require("CHAIN_ID"); chainID != "" {
		id, ok := new(big.Int).SetString(chainID, 10)
		if !ok || id.Sign() <= 0 {
			problems = append(problems, fmt.Sprintf("CHAIN_ID is not a positive integer: %q", chainID))
		} else {
			cfg.ChainID = id
		}
	}

	switch cfg.Signer {
	case SignerLocal:
		cfg.RelayerPrivateKey = require("RELAYER_PRIVATE_KEY")
	case SignerKMS:
		cfg.KMS = KMSConfig{
			ProjectID:          require("GCP_PROJECT_ID"),
			Location:           v.GetString("KMS_LOCATION"),
			KeyRingID:          require("KEY_RING_ID"),
			KeyID:              require("RELAYER_KEY_ID"),
			KeyVersion:         v.GetInt("KMS_KEY_VERSION"),
			CredentialFilePath: v.GetString("KMS_CREDENTIAL_FILE_PATH"),
		}
	default:
		problems = append(problems, fmt.Sprintf("RELAYER_SIGNER must be %q or %q, got %q", SignerLocal, SignerKMS, cfg.Signer))
	}

	switch cfg.GasMode {
	case GasModeEstimate, GasModeFixed:
	default:
		problems = append(problems, fmt.Sprintf("GAS_MODE must be %q or %q, got %q", GasModeEstimate, GasModeFixed, cfg.GasMode))
	}

	switch cfg.FeeSource {
	case FeeSourceRPC, FeeSourceGasStation:
	default:
		problems = append(problems, fmt.Sprintf("FEE_SOURCE must be %q or %q, got %q", FeeSourceRPC, FeeSourceGasStation, cfg.FeeSource))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrStartupConfig, strings.Join(problems, "; "))
	}

	cfg.RPCTimeout = getDuration(v, "RPC_TIMEOUT", DefaultRPCTimeout)
	cfg.GasLimit = getUint(v, "GAS_LIMIT", DefaultGasLimit)
	cfg.GasBufferPercent = getUint(v, "GAS_BUFFER_PERCENT", DefaultGasBufferPercent)
	cfg.SerializeSigner = v.GetBool("RELAY_SERIALIZE_SIGNER")
	if cfg.GasStationURL == "" {
		cfg.GasStationURL = cfg.defaultGasStationURL()
	}

	return cfg, nil
}

func (c *Config) defaultGasStationURL() string {
	if c.IsProduction() {
		return gasStationMainnet
	}
	return gasStationTestnet
}

func getUint(v *viper.Viper, key string, def uint64) uint64 {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.Error().Msgf("config.getUint: failed to parse %s: %v", key, err)
		return def
	}
	return n
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Error().Msgf("config.getDuration: failed to parse %s: %q", key, raw)
		return def
	}
	return d
}
