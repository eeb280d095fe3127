package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "ORDERS"

type Config struct {
	Service   Service   `mapstructure:"service"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Events    Events    `mapstructure:"events"`
	Services  Services  `mapstructure:"services"`
	Saga      Saga      `mapstructure:"saga"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	Log       Log       `mapstructure:"log"`
}

type Service struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type Database struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// Redis is optional; without an address saga locks are held in process
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Events struct {
	// Transport is "sns" or "kafka"
	Transport string `mapstructure:"transport"`
	AWS       AWS    `mapstructure:"aws"`
	Kafka     Kafka  `mapstructure:"kafka"`
}

type AWS struct {
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	SNSTopicArn string `mapstructure:"sns_topic_arn"`
	// SQSQueueURL receives payment and fulfillment events; empty disables consumption
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
	SQSWorkers  int32  `mapstructure:"sqs_workers"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Services struct {
	Inventory string        `mapstructure:"inventory_url"`
	Shipping  string        `mapstructure:"shipping_url"`
	Tax       string        `mapstructure:"tax_url"`
	Payment   string        `mapstructure:"payment_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Saga struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// TransientExpression is a CEL expression over service, code, status, timeout and message
	TransientExpression string        `mapstructure:"transient_expression"`
	RecoveryInterval    time.Duration `mapstructure:"recovery_interval"`
	RecoveryBatchSize   int           `mapstructure:"recovery_batch_size"`
	RecoveryConcurrency int           `mapstructure:"recovery_concurrency"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
}

type Telemetry struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Version      string `mapstructure:"version"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ReadConfig loads defaults, then the config file if any, then ORDERS_* environment
// variables, e.g. ORDERS_SAGA_MAX_ATTEMPTS=5. An empty path looks for
// orders-service.{json,yaml} in the working directory and ./config.
func ReadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orders-service")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "error reading config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "orders-service")
	v.SetDefault("service.env", "local")
	v.SetDefault("service.port", "8080")
	v.SetDefault("service.shutdown_timeout", 30*time.Second)
	v.SetDefault("service.request_timeout", 60*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "orders")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.transport", "sns")
	v.SetDefault("events.aws.region", "us-east-1")
	v.SetDefault("events.aws.endpoint", "")
	v.SetDefault("events.aws.sns_topic_arn", "arn:aws:sns:us-east-1:000000000000:order-events")
	v.SetDefault("events.aws.sqs_queue_url", "")
	v.SetDefault("events.aws.sqs_workers", 10)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "order-events")

	v.SetDefault("services.inventory_url", "http://localhost:8081")
	v.SetDefault("services.shipping_url", "http://localhost:8082")
	v.SetDefault("services.tax_url", "http://localhost:8083")
	v.SetDefault("services.payment_url", "http://localhost:8084")
	v.SetDefault("services.timeout", 5*time.Second)

	v.SetDefault("saga.max_attempts", 3)
	v.SetDefault("saga.base_delay", 200*time.Millisecond)
	v.SetDefault("saga.max_delay", 2*time.Second)
	v.SetDefault("saga.step_timeout", 10*time.Second)
	v.SetDefault("saga.transient_expression", "")
	v.SetDefault("saga.recovery_interval", 30*time.Second)
	v.SetDefault("saga.recovery_batch_size", 50)
	v.SetDefault("saga.recovery_concurrency", 4)
	v.SetDefault("saga.lock_ttl", 2*time.Minute)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.version", "1.0.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	switch c.Events.Transport {
	case "sns":
		if c.Events.AWS.SNSTopicArn == "" {
			return errors.New("events.aws.sns_topic_arn is required for the sns transport")
		}
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			return errors.New("events.kafka.brokers and events.kafka.topic are required for the kafka transport")
		}
	default:
		return errors.Errorf("unknown events.transport %q", c.Events.Transport)
	}

	for name, url := range map[string]string{
		"inventory": c.Services.Inventory,
		"shipping":  c.Services.Shipping,
		"tax":       c.Services.Tax,
		"payment":   c.Services.Payment,
	} {
		if url == "" {
			return errors.Errorf("services.%s_url is required", name)
		}
	}

	if c.Saga.MaxAttempts < 1 {
		return errors.New("saga.max_attempts must be at least 1")
	}
	if c.Saga.RecoveryBatchSize < 1 || c.Saga.RecoveryConcurrency < 1 {
		return errors.New("saga.recovery_batch_size and saga.recovery_concurrency must be positive")
	}
	return nil
}

// GetDatabaseURL returns database.url or builds one from the individual fields
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
