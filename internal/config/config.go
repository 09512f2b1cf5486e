// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/ilyakaznacheev/cleanenv"
)

// Окружения запуска.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Backend'ы очереди автоматизации.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	RabbitMQ                `yaml:"rabbitmq"`
	Automation              `yaml:"automation"`
	Billing                 `yaml:"billing"`
	JWTToken                `yaml:"jwttoken"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// RateLimit запросов в секунду на клиента, 0 отключает ограничение.
	RateLimit float64 `yaml:"rate_limit" env-default:"10"`
	RateBurst int     `yaml:"rate_burst" env-default:"20"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ настройки публикации событий. Пустой URL отключает публикацию.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Exchange           string        `yaml:"exchange" env-default:"billing"`
}

// Automation настройки очереди задач и crank-воркера.
type Automation struct {
	Queue        string        `yaml:"queue" env-default:"billing"`
	Backend      string        `yaml:"backend" env-default:"memory"`
	Capacity     int           `yaml:"capacity" env-default:"10000"`
	PollInterval time.Duration `yaml:"poll_interval" env-default:"1s"`
	BatchSize    int           `yaml:"batch_size" env-default:"100"`
	Concurrency  int           `yaml:"concurrency" env-default:"4"`
	// RetryDelay задержка повтора задачи после ошибки исполнителя.
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"1m"`
	// ClaimLease срок аренды забранной задачи в redis-очереди.
	ClaimLease time.Duration `yaml:"claim_lease" env-default:"5m"`
}

// Billing настройки движка.
type Billing struct {
	ProgramID        string        `yaml:"program_id" env:"BILLING_PROGRAM_ID"`
	Admin            string        `yaml:"admin" env:"BILLING_ADMIN"`
	FeeBasisPoints   uint16        `yaml:"fee_bps"`
	PlanCacheTTL     time.Duration `yaml:"plan_cache_ttl" env-default:"1h"`
	AddressCacheSize int           `yaml:"address_cache_size" env-default:"4096"`
}

// ProgramKey идентификатор программы, от которого выводятся адреса.
func (b Billing) ProgramKey() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(b.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("billing.program_id: %w", err)
	}
	return key, nil
}

// AdminKey администратор реестра.
func (b Billing) AdminKey() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(b.Admin)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("billing.admin: %w", err)
	}
	return key, nil
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Load читает конфиг из файла path с переопределением из окружения.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if _, err := c.ProgramKey(); err != nil {
		return err
	}
	if _, err := c.AdminKey(); err != nil {
		return err
	}
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("automation.backend: unknown backend %q", c.Backend)
	}
	if c.FeeBasisPoints > 10_000 {
		return fmt.Errorf("billing.fee_bps: %d exceeds 10000", c.FeeBasisPoints)
	}
	return nil
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%s", err)
	}
	return cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"Automation:\n"+
			"  Queue: %s\n"+
			"  Backend: %s\n"+
			"  PollInterval: %s\n"+
			"Billing:\n"+
			"  ProgramID: %s\n"+
			"  Admin: %s\n"+
			"  FeeBasisPoints: %d\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.Queue,
		c.Backend,
		c.PollInterval,
		c.ProgramID,
		c.Admin,
		c.FeeBasisPoints,
	)
}
