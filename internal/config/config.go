package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"mediafetch"`
}

type TelegramConfig struct {
	Enabled          bool   `yaml:"enabled" env-default:"false"`
	ApiKey           string `yaml:"api_key" env-default:""`
	RequireApproval  bool   `yaml:"require_approval" env-default:"true"`
	InviteCodeLength int    `yaml:"invite_code_length" env-default:"8"`
}

type BindingConfig struct {
	CodeLength         int `yaml:"code_length" env-default:"8"`
	CodeTTLHours       int `yaml:"code_ttl_hours" env-default:"24"`
	IssueLimit         int `yaml:"issue_limit" env-default:"3"`
	IssueWindowMinutes int `yaml:"issue_window_minutes" env-default:"60"`
	SweepIntervalMin   int `yaml:"sweep_interval_minutes" env-default:"60"`
	RefreshIntervalMin int `yaml:"registry_refresh_minutes" env-default:"5"`
}

type FeedConfig struct {
	Enabled       bool   `yaml:"enabled" env-default:"false"`
	Url           string `yaml:"url" env-default:""`
	ApiKey        string `yaml:"api_key" env-default:""`
	WebhookSecret string `yaml:"webhook_secret" env-default:""`
	PollMinutes   int    `yaml:"poll_minutes" env-default:"5"`
}

type MediaConfig struct {
	Dir            string `yaml:"dir" env-default:"/tmp/mediafetch"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env-default:"120"`
	MaxSizeMb      int64  `yaml:"max_size_mb" env-default:"50"`
}

type DeliveryConfig struct {
	Workers     int `yaml:"workers" env-default:"4"`
	MaxRetries  int `yaml:"max_retries" env-default:"3"`
	BaseDelayMs int `yaml:"base_delay_ms" env-default:"500"`
}

type Config struct {
	Mongo    MongoConfig    `yaml:"mongo"`
	Telegram TelegramConfig `yaml:"telegram"`
	Binding  BindingConfig  `yaml:"binding"`
	Feed     FeedConfig     `yaml:"feed"`
	Media    MediaConfig    `yaml:"media"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Listen   Listen         `yaml:"listen"`
	Env      string         `yaml:"env" env-default:"local"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
