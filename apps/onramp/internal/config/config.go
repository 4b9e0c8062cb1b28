package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

type Config struct {
	RpcURL       string
	DbURL        string
	Network      string
	KafkaBroker  string
	KafkaTopic   string
	KafkaGroupID string
	APIPort      int
	Gateway      GatewayConfig
	Settlement   SettlementConfig
}

type GatewayConfig struct {
	URL          string
	APIKey       string
	CheckoutPath string
	Provider     string
	Timeout      time.Duration
}

// SettlementConfig is everything the settlement pipeline reads. It is
// built once at startup and injected; nothing reads the environment later.
type SettlementConfig struct {
	// AdminKey signs wallet provisioning and disbursement. Nil leaves the
	// service able to take orders while settlement fails with a
	// configuration error.
	AdminKey              *solana.PrivateKey
	SmartWalletProgramID  solana.PublicKey
	TokenSymbol           string
	TokenMint             solana.PublicKey
	TokenDecimals         *uint8
	SourceTokenAccount    solana.PublicKey
	MinFeeReserveLamports uint64
	DisbursementEnabled   bool
	// SupportedTokens are the symbols orders may use. TokenSymbol is always
	// included.
	SupportedTokens []string
	OrderExpiry     time.Duration
	ConfirmTimeout  time.Duration
	// SettlementTimeout bounds one settlement attempt and must end before
	// ClaimTTL lets the sweeper release the claim.
	SettlementTimeout time.Duration
	ClaimTTL          time.Duration
	BlockhashValidity time.Duration
	RetryDelay        time.Duration
	PublishInterval   time.Duration
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	settlement, err := loadSettlement()
	if err != nil {
		log.Fatalf("Invalid settlement configuration: %v", err)
	}

	return &Config{
		RpcURL:       getEnvOrFatal("RPC_URL"),
		DbURL:        getEnvOrFatal("DB_URL"),
		Network:      getEnv("SOLANA_NETWORK", "devnet"),
		KafkaBroker:  os.Getenv("KAFKA_BROKER"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "order-events"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "settlement-retrier"),
		APIPort:      getEnvInt("API_PORT", 8080),
		Gateway: GatewayConfig{
			URL:          os.Getenv("GATEWAY_URL"),
			APIKey:       os.Getenv("GATEWAY_API_KEY"),
			CheckoutPath: getEnv("GATEWAY_CHECKOUT_PATH", "/checkout/sessions"),
			Provider:     getEnv("GATEWAY_PROVIDER", "checkout"),
			Timeout:      getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Settlement: *settlement,
	}
}

func loadSettlement() (*SettlementConfig, error) {
	cfg := &SettlementConfig{
		TokenSymbol:           strings.ToUpper(getEnv("TOKEN_SYMBOL", "USDC")),
		MinFeeReserveLamports: getEnvUint64("MIN_FEE_RESERVE_LAMPORTS", 5_000_000),
		DisbursementEnabled:   getEnvBool("DISBURSEMENT_ENABLED", true),
		OrderExpiry:           getEnvDuration("ORDER_EXPIRY", 30*time.Minute),
		ConfirmTimeout:        getEnvDuration("CONFIRM_TIMEOUT", 60*time.Second),
		SettlementTimeout:     getEnvDuration("SETTLEMENT_TIMEOUT", 150*time.Second),
		ClaimTTL:              getEnvDuration("CLAIM_TTL", 5*time.Minute),
		BlockhashValidity:     getEnvDuration("BLOCKHASH_VALIDITY", 90*time.Second),
		RetryDelay:            getEnvDuration("RETRY_DELAY", 30*time.Second),
		PublishInterval:       getEnvDuration("PUBLISH_INTERVAL", 3*time.Second),
	}

	adminKey, err := loadAdminKey()
	if err != nil {
		return nil, err
	}
	cfg.AdminKey = adminKey

	if cfg.SmartWalletProgramID, err = getEnvPublicKey("SMART_WALLET_PROGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.TokenMint, err = getEnvPublicKey("TOKEN_MINT"); err != nil {
		return nil, err
	}
	if cfg.SourceTokenAccount, err = getEnvPublicKey("SOURCE_TOKEN_ACCOUNT"); err != nil {
		return nil, err
	}

	if value := os.Getenv("TOKEN_DECIMALS"); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_DECIMALS must be 0-255: %w", err)
		}
		decimals := uint8(parsed)
		cfg.TokenDecimals = &decimals
	}

	cfg.SupportedTokens = []string{cfg.TokenSymbol}
	for _, symbol := range strings.Split(os.Getenv("SUPPORTED_TOKENS"), ",") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol != "" && symbol != cfg.TokenSymbol {
			cfg.SupportedTokens = append(cfg.SupportedTokens, symbol)
		}
	}

	// Provisioning and disbursement each wait up to ConfirmTimeout inside
	// one attempt, and the attempt must give up before its claim is swept.
	if cfg.SettlementTimeout <= 2*cfg.ConfirmTimeout {
		return nil, fmt.Errorf("SETTLEMENT_TIMEOUT (%s) must exceed twice CONFIRM_TIMEOUT (%s)", cfg.SettlementTimeout, cfg.ConfirmTimeout)
	}
	if cfg.ClaimTTL <= cfg.SettlementTimeout {
		return nil, fmt.Errorf("CLAIM_TTL (%s) must exceed SETTLEMENT_TIMEOUT (%s)", cfg.ClaimTTL, cfg.SettlementTimeout)
	}
	if cfg.OrderExpiry <= 0 {
		return nil, fmt.Errorf("ORDER_EXPIRY must be positive")
	}

	return cfg, nil
}

// loadAdminKey reads ADMIN_PRIVATE_KEY (base58) or, failing that, a
// solana-keygen JSON file at ADMIN_KEYPAIR_PATH.
func loadAdminKey() (*solana.PrivateKey, error) {
	if value := strings.TrimSpace(os.Getenv("ADMIN_PRIVATE_KEY")); value != "" {
		key, err := solana.PrivateKeyFromBase58(value)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_PRIVATE_KEY is not a base58 private key: %w", err)
		}
		return &key, nil
	}
	if path := os.Getenv("ADMIN_KEYPAIR_PATH"); path != "" {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read ADMIN_KEYPAIR_PATH: %w", err)
		}
		return &key, nil
	}
	return nil, nil
}

func getEnvPublicKey(key string) (solana.PublicKey, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s is not a base58 public key: %w", key, err)
	}
	return pk, nil
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("Warning: environment variable %s not set", key)

	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
