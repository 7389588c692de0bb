package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	NATS struct {
		URL     string             `mapstructure:"url"`
		Gateway ConsumerNatsConfig `mapstructure:"gateway"`
		// Subject the outbound gateway sender publishes replies to,
		// and the stream that holds them until the gateway picks up.
		ReplySubject string `mapstructure:"replySubject"`
		ReplyStream  string `mapstructure:"replyStream"`
	} `mapstructure:"nats"`
	AI       AIConfig       `mapstructure:"ai"`
	Followup FollowupConfig `mapstructure:"followup"`
	Leads    LeadsConfig    `mapstructure:"leads"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
}

// AIConfig holds settings for the AI responder and its dispatch pool.
type AIConfig struct {
	APIKey         string        `mapstructure:"apiKey"`
	Model          string        `mapstructure:"model"`
	ContextLimit   int           `mapstructure:"contextLimit"`   // messages fed to the model per turn
	RequestTimeout time.Duration `mapstructure:"requestTimeout"` // per-call deadline
	PoolSize       int           `mapstructure:"poolSize"`       // concurrent AI workers
	MaxBlock       time.Duration `mapstructure:"maxBlock"`       // max submit block when pool is full
	ExpiryTime     time.Duration `mapstructure:"expiryTime"`     // idle worker expiry
}

// FollowupConfig holds settings for the follow-up scheduler loop.
type FollowupConfig struct {
	TickInterval   time.Duration `mapstructure:"tickInterval"`
	StaleAfter     time.Duration `mapstructure:"staleAfter"`
	DelayMinutes   []int         `mapstructure:"delayMinutes"` // cumulative delays per step
	DispatchBudget int           `mapstructure:"dispatchBudget"`
}

// LeadsConfig holds lead store tunables.
type LeadsConfig struct {
	DedupWindow      time.Duration `mapstructure:"dedupWindow"`
	TrimKeepLast     int           `mapstructure:"trimKeepLast"`
	SeqRetryAttempts int           `mapstructure:"seqRetryAttempts"`
}

// CloudConfig holds WhatsApp Cloud API sender settings.
type CloudConfig struct {
	BaseURL     string        `mapstructure:"baseURL"`
	AccessToken string        `mapstructure:"accessToken"`
	SendTimeout time.Duration `mapstructure:"sendTimeout"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("nats.gateway.stream", "wa_gateway_events")
	v.SetDefault("nats.gateway.consumer", "lead_router")
	v.SetDefault("nats.gateway.group", "lead_router_group")
	v.SetDefault("nats.gateway.subjectList", []string{"v1.gateway.>"})
	v.SetDefault("nats.gateway.maxAge", 7)
	v.SetDefault("nats.gateway.maxDeliver", 5)
	v.SetDefault("nats.gateway.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.gateway.nakMaxDelay", 30*time.Second)
	// Outbound sends live outside the consumed v1.gateway.> space so the
	// consumer never re-reads our own replies as inbound messages.
	v.SetDefault("nats.replySubject", "v1.gateway_reply.send")
	v.SetDefault("nats.replyStream", "wa_gateway_replies")

	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.contextLimit", 20)
	v.SetDefault("ai.requestTimeout", 30*time.Second)
	v.SetDefault("ai.poolSize", 10)
	v.SetDefault("ai.maxBlock", time.Second)
	v.SetDefault("ai.expiryTime", time.Minute)

	v.SetDefault("followup.tickInterval", 60*time.Second)
	v.SetDefault("followup.staleAfter", 5*time.Minute)
	v.SetDefault("followup.delayMinutes", []int{5, 30})
	v.SetDefault("followup.dispatchBudget", 100)

	v.SetDefault("leads.dedupWindow", 7*24*time.Hour)
	v.SetDefault("leads.trimKeepLast", 50)
	v.SetDefault("leads.seqRetryAttempts", 3)

	v.SetDefault("cloud.baseURL", "https://graph.facebook.com/v19.0")
	v.SetDefault("cloud.sendTimeout", 15*time.Second)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.crm-lead-router")
	v.AddConfigPath("/etc/crm-lead-router")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("ai.apiKey", key)
	}
	if token := os.Getenv("WHATSAPP_CLOUD_TOKEN"); token != "" {
		v.Set("cloud.accessToken", token)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
