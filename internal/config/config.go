package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // あればPOSTGRES_*より優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string
	DBMaxOpenConns   int

	JWTSecret            string // 管理者JWTの署名シークレット
	PaymentWebhookSecret string // 決済コールバックの共有シークレット

	GoEnv    string // dev/prod
	LogLevel string // debug/info/warn/error

	KafkaBrokers    []string // 空ならログ出力のみ
	NotifyTopic     string
	NotifyWorkers   int
	NotifyQueueSize int
	RedisAddr       string // 空なら通知の重複排除なし

	TaxBasisPoints      int64 // 1000 = 10%
	DeliveryFeeLocal    int64
	DeliveryFeeShipping int64
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: getenv("PORT", "8080"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret:            os.Getenv("JWT_SECRET"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),

		GoEnv:    getenv("GO_ENV", "dev"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		NotifyTopic:  getenv("NOTIFY_TOPIC", "order-notifications"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.PostgresPort, err = atoiDefault("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxOpenConns, err = atoiDefault("DB_MAX_OPEN_CONNS", 20); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = atoiDefault("NOTIFY_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.NotifyQueueSize, err = atoiDefault("NOTIFY_QUEUE_SIZE", 256); err != nil {
		return Config{}, err
	}

	var n int
	if n, err = atoiDefault("TAX_BASIS_POINTS", 0); err != nil {
		return Config{}, err
	}
	cfg.TaxBasisPoints = int64(n)
	if n, err = atoiDefault("DELIVERY_FEE_LOCAL", 500); err != nil {
		return Config{}, err
	}
	cfg.DeliveryFeeLocal = int64(n)
	if n, err = atoiDefault("DELIVERY_FEE_SHIPPING", 1200); err != nil {
		return Config{}, err
	}
	cfg.DeliveryFeeShipping = int64(n)

	//必須チェック
	if cfg.DatabaseURL == "" {
		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PaymentWebhookSecret == "" {
		return Config{}, fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}

	//範囲チェック
	if cfg.TaxBasisPoints < 0 || cfg.TaxBasisPoints > 10000 {
		return Config{}, fmt.Errorf("TAX_BASIS_POINTS must be between 0 and 10000")
	}
	if cfg.DeliveryFeeLocal < 0 || cfg.DeliveryFeeShipping < 0 {
		return Config{}, fmt.Errorf("delivery fees must be >= 0")
	}
	if cfg.NotifyWorkers < 1 {
		return Config{}, fmt.Errorf("NOTIFY_WORKERS must be >= 1")
	}
	if cfg.NotifyQueueSize < 1 {
		return Config{}, fmt.Errorf("NOTIFY_QUEUE_SIZE must be >= 1")
	}

	return cfg, nil
}

// DSN は gorm の postgres ドライバに渡す接続文字列。
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

// ":8080" 形式
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
