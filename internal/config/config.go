package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// イベントチャネルのブローカー種別
const (
	BrokerNATS  = "nats"
	BrokerKafka = "kafka"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort     string
	ServiceName    string // レジストリに自己登録する際のサービス名（空の場合はコマンドごとの既定値）
	ServiceAddress string // レジストリに登録する到達可能なアドレス
	RegisterSelf   bool

	// Registry
	RegistryHost string
	RegistryPort int

	// Event Channel
	EventBroker   string
	NatsURL       string
	KafkaBrokers  []string
	ConsumerGroup string
	LikesQueue    string

	// Cache store
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Database（likes / worker / migrate のみ必須）
	DatabaseURL string

	// Collaborators
	VerifierService string
	ReviewsService  string
	LikesService    string

	// Timeouts
	UpstreamTimeout          time.Duration
	BackgroundRefreshTimeout time.Duration

	// Rate Limit（req/min/token）
	RateLimitGeneral int
	RateLimitLike    int

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ServiceName = getEnvString("SERVICE_NAME", "")
	cfg.ServiceAddress = getEnvString("SERVICE_ADDRESS", defaultHostname())
	cfg.RegisterSelf = getEnvBool("REGISTER_SELF", true)

	cfg.RegistryHost = getEnvString("REGISTRY_HOST", "consul")
	cfg.RegistryPort = getEnvInt("REGISTRY_PORT", 8500)

	cfg.EventBroker = strings.ToLower(getEnvString("EVENT_BROKER", BrokerNATS))
	cfg.NatsURL = getEnvString("NATS_URL", "nats://nats:4222")
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS", []string{"kafka:9092"})
	cfg.ConsumerGroup = getEnvString("CONSUMER_GROUP", "likes-consumer")
	cfg.LikesQueue = getEnvString("LIKES_QUEUE", "likes")

	cfg.RedisHost = getEnvString("REDIS_HOST", "redis")
	cfg.RedisPort = getEnvInt("REDIS_PORT", 6379)
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.VerifierService = getEnvString("VERIFIER_SERVICE", "beer_review_user_service")
	cfg.ReviewsService = getEnvString("REVIEWS_SERVICE", "reviews-service")
	cfg.LikesService = getEnvString("LIKES_SERVICE", "likes-service")

	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.BackgroundRefreshTimeout = getEnvDuration("BACKGROUND_REFRESH_TIMEOUT", 30*time.Second)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLike = getEnvInt("RATE_LIMIT_LIKE", 30)

	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.EventBroker != BrokerNATS && cfg.EventBroker != BrokerKafka {
		return nil, fmt.Errorf("unsupported EVENT_BROKER %q: must be %q or %q", cfg.EventBroker, BrokerNATS, BrokerKafka)
	}
	if cfg.LikesQueue == "" {
		return nil, fmt.Errorf("LIKES_QUEUE must not be empty")
	}

	return cfg, nil
}

// RequireDatabase はDATABASE_URLが設定されているかを検証する。
// いいね状態ストアを扱うコマンド（likes, worker, migrate）から呼び出す。
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}
	return nil
}

// RegistryAddr はレジストリの host:port を返す。
func (c *Config) RegistryAddr() string {
	return fmt.Sprintf("%s:%d", c.RegistryHost, c.RegistryPort)
}

// RedisAddr はキャッシュストアの host:port を返す。
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func defaultHostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
