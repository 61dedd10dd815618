package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port    string
	Timeout time.Duration
}

type RabbitMQConfig struct {
	URL       string
	PushQueue string
	Exchange  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds the routing policy knobs. Defaults match the product
// policy; everything is overridable via config.yaml or environment.
type EngineConfig struct {
	QuietStartHour     int            `mapstructure:"quiet_start_hour"`
	QuietEndHour       int            `mapstructure:"quiet_end_hour"`
	DailyPushCap       int            `mapstructure:"daily_push_cap"`
	BatchNonUrgentCap  int            `mapstructure:"batch_non_urgent_cap"`
	DefaultCooldownHrs int            `mapstructure:"default_cooldown_hours"`
	TopicCooldownHours map[string]int `mapstructure:"topic_cooldown_hours"`
	SweepSchedule      string         `mapstructure:"sweep_schedule"`
	PushPublishTimeout time.Duration  `mapstructure:"push_publish_timeout"`
}

type AuthConfig struct {
	JWTSecret string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.timeout", "10s")
	viper.SetDefault("rabbitmq.exchange", "coach.direct")
	viper.SetDefault("rabbitmq.push_queue", "push.queue")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("engine.quiet_start_hour", 22)
	viper.SetDefault("engine.quiet_end_hour", 8)
	viper.SetDefault("engine.daily_push_cap", 1)
	viper.SetDefault("engine.batch_non_urgent_cap", 1)
	viper.SetDefault("engine.default_cooldown_hours", 6)
	viper.SetDefault("engine.topic_cooldown_hours", map[string]int{
		"hydration": 2,
		"nutrition": 3,
		"activity":  4,
		"wellbeing": 6,
		"sleep":     8,
		"progress":  12,
		"system":    24,
	})
	viper.SetDefault("engine.sweep_schedule", "@every 1h")
	viper.SetDefault("engine.push_publish_timeout", "5s")

	// Read from environment
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
