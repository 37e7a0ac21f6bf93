package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// Role — какая сторона запущена: admin (операторский desk, ведёт
	// discovery) или customer (бэкенд клиентского виджета).
	Role string

	// RelayBotToken/RelayGroupID — доступ к message-relay. Пустые значения
	// переводят процесс в local-only режим (не ошибка).
	RelayBotToken string
	RelayGroupID  string

	// SnapshotPath — файл локального снапшота коллекций; единственная
	// долговечность без store.
	SnapshotPath string

	// GeoIPURL — переопределение lookup-сервиса (для тестов/self-hosted).
	GeoIPURL string

	KafkaBrokers     []string
	KafkaTopicTicket string

	// DatabaseDisabled: store опционален — при пустом DB_HOST процесс
	// работает без него.
	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	DefaultPost struct {
		AuthorName string
		Subject    string
		Content    string
		Image      string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:  getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort: firstEnv("APP_PORT", "HTTP_PORT", "8099"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Role:     getEnv("ROLE", "admin"),

		RelayBotToken: getEnv("RELAY_BOT_TOKEN", ""),
		RelayGroupID:  getEnv("RELAY_GROUP_ID", ""),
		SnapshotPath:  getEnv("SNAPSHOT_PATH", "desk-sync.snapshot.json"),
		GeoIPURL:      getEnv("GEOIP_URL", ""),

		KafkaBrokers:     splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket: getEnv("KAFKA_TOPIC_TICKET", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "desk_sync")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.DefaultPost.AuthorName = getEnv("DEFAULT_POST_AUTHOR", "Support")
	cfg.DefaultPost.Subject = getEnv("DEFAULT_POST_SUBJECT", "We are online")
	cfg.DefaultPost.Content = getEnv("DEFAULT_POST_CONTENT",
		"Our staff is online. Ask your question here or chat with an agent directly.")
	cfg.DefaultPost.Image = getEnv("DEFAULT_POST_IMAGE", "")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Role != "admin" && c.Role != "customer" {
		return errors.New("config: ROLE must be admin or customer")
	}
	if c.AppEnv == "production" && c.StoreEnabled() && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	return nil
}

// StoreEnabled — задан ли внешний store.
func (c *Config) StoreEnabled() bool {
	return c.DB.Host != "" && c.DB.Database != ""
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func splitCSV(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
