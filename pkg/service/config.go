// Package service loads the configuration of tome-topics and wires its
// components together.
package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/tome-topics/pkg/messagebus"
	"github.com/illmade-knight/tome-topics/pkg/topics"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"gopkg.in/yaml.v3"
)

// Hyperscalers the service can be deployed on.
const (
	HyperscalerGCP   = "gcp"
	HyperscalerAWS   = "aws"
	HyperscalerLocal = "local"
)

// Secret names read at startup.
const (
	SecretSigningKey       = "jwt-signing-key"
	SecretExpectedAudience = "toto-expected-audience"
	defaultTopicSecret     = "tome_topics_topic_name"
)

// Config holds everything the service needs to start.
type Config struct {
	ServiceName        string
	BasePath           string
	Hyperscaler        string
	ProjectID          string
	Environment        string
	AWSRegion          string
	Port               string
	CustomAuthProvider string
	MinAppVersion      string
	NoAuth             bool

	Firestore  topics.FirestoreStoreConfig
	Flashcards topics.FlashcardsClientConfig
	Bus        BusConfig

	// LocalSecrets serves the secrets when Hyperscaler is local.
	LocalSecrets map[string]string
}

// BusConfig is the message bus section, usually read from a YAML file.
type BusConfig struct {
	messagebus.Config `yaml:",inline"`
	Topics            []messagebus.TopicSecret    `yaml:"topics"`
	SNS               messagebus.SNSConfig        `yaml:"sns"`
	Redis             messagebus.RedisQueueConfig `yaml:"redis"`
	GooglePull        messagebus.GooglePullConfig `yaml:"gcp_pull"`
}

// LoadConfigFromEnv reads the configuration from the environment. When
// MESSAGE_BUS_CONFIG names a file, the bus section is read from it.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		ServiceName:        envOr("SERVICE_NAME", "tome-ms-topics"),
		BasePath:           envOr("BASE_PATH", "/tometopics"),
		Hyperscaler:        strings.ToLower(envOr("HYPERSCALER", HyperscalerAWS)),
		ProjectID:          os.Getenv("GCP_PID"),
		Environment:        envOr("ENVIRONMENT", "dev"),
		AWSRegion:          envOr("AWS_REGION", "eu-west-1"),
		Port:               envOr("PORT", "8080"),
		CustomAuthProvider: envOr("CUSTOM_AUTH_PROVIDER", "toto"),
		MinAppVersion:      os.Getenv("MIN_APP_VERSION"),
		Firestore:          topics.LoadFirestoreStoreConfigFromEnv(),
	}
	cfg.Flashcards = topics.LoadFlashcardsClientConfigFromEnv(cfg.ServiceName)

	if v := os.Getenv("NO_AUTH"); v != "" {
		noAuth, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid NO_AUTH value %q: %w", v, err)
		}
		cfg.NoAuth = noAuth
	}

	switch cfg.Hyperscaler {
	case HyperscalerGCP, HyperscalerAWS, HyperscalerLocal:
	default:
		return nil, fmt.Errorf("unsupported HYPERSCALER %q", cfg.Hyperscaler)
	}
	if cfg.Hyperscaler == HyperscalerGCP && cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PID environment variable not set")
	}

	cfg.Bus = DefaultBusConfig(cfg.Hyperscaler)
	if path := os.Getenv("MESSAGE_BUS_CONFIG"); path != "" {
		bus, err := LoadBusConfig(path)
		if err != nil {
			return nil, err
		}
		cfg.Bus = *bus
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Bus.Redis.Addr = addr
	}
	cfg.Bus.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if queues := os.Getenv("REDIS_QUEUES"); queues != "" {
		cfg.Bus.Redis.Queues = splitList(queues)
	}

	if cfg.Hyperscaler == HyperscalerLocal {
		cfg.LocalSecrets = map[string]string{
			SecretSigningKey:       os.Getenv("JWT_SIGNING_KEY"),
			SecretExpectedAudience: envOr("EXPECTED_AUDIENCE", cfg.ServiceName),
		}
		for _, t := range cfg.Bus.Topics {
			cfg.LocalSecrets[t.Secret] = t.LogicalName
		}
	}
	return cfg, nil
}

// DefaultBusConfig is used when no bus file is given: the provider follows the
// hyperscaler and the service publishes to tometopics.
func DefaultBusConfig(hyperscaler string) BusConfig {
	provider := hyperscaler
	if hyperscaler == HyperscalerLocal {
		provider = messagebus.ProviderRedis
	}
	return BusConfig{
		Config: messagebus.Config{Provider: provider, EndpointPath: messagebus.DefaultEndpointPath},
		Topics: []messagebus.TopicSecret{{LogicalName: topics.LogicalTopic, Secret: defaultTopicSecret}},
		Redis: messagebus.RedisQueueConfig{
			Addr:        "localhost:6379",
			Queues:      []string{topics.LogicalTopic},
			NumWorkers:  2,
			PollTimeout: 2 * time.Second,
		},
	}
}

// LoadBusConfig reads a message bus YAML file.
func LoadBusConfig(path string) (*BusConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message bus config file '%s': %w", path, err)
	}
	var cfg BusConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
	}
	if cfg.Provider == "" {
		return nil, fmt.Errorf("validation error: message bus config '%s' names no provider", path)
	}
	for i, t := range cfg.Topics {
		if t.LogicalName == "" || t.Secret == "" {
			return nil, fmt.Errorf("validation error: topics[%d] needs both logical_name and secret", i)
		}
	}
	return &cfg, nil
}

// EventsDestination is where the service publishes its own events.
func (c *Config) EventsDestination() types.Destination {
	switch c.Bus.Provider {
	case messagebus.ProviderRedis, messagebus.ProviderGCPPull:
		return types.QueueDestination(topics.LogicalTopic)
	}
	return types.TopicDestination(topics.LogicalTopic)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
