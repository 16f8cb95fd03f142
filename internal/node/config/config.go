package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Config holds a single node's configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Broker      BrokerConfig      `json:"broker" yaml:"broker"`
	Replication ReplicationConfig `json:"replication" yaml:"replication"`
	Gossip      GossipConfig      `json:"gossip" yaml:"gossip"`
	Logger      logger.Config     `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	Hostname string `json:"hostname" yaml:"hostname"`
	HTTPPort int    `json:"http_port" yaml:"http_port"`
}

type BrokerConfig struct {
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	ChannelPrefix string `json:"channel_prefix" yaml:"channel_prefix"`
}

type ReplicationConfig struct {
	Factor             int `json:"factor" yaml:"factor"`
	VNodesPerNode      int `json:"vnodes_per_node" yaml:"vnodes_per_node"`
	WriteTimeoutMs     int `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	ReadTimeoutMs      int `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	StabilizeTimeoutMs int `json:"stabilize_timeout_ms" yaml:"stabilize_timeout_ms"`
}

func (r ReplicationConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutMs) * time.Millisecond
}

func (r ReplicationConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}

func (r ReplicationConfig) StabilizeTimeout() time.Duration {
	return time.Duration(r.StabilizeTimeoutMs) * time.Millisecond
}

type GossipConfig struct {
	Port  int      `json:"port" yaml:"port"`
	Seeds []string `json:"seeds" yaml:"seeds"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname: "127.0.0.1",
			HTTPPort: 8080,
		},
		Broker: BrokerConfig{
			RedisAddr:     "127.0.0.1:6379",
			ChannelPrefix: "kv",
		},
		Replication: ReplicationConfig{
			Factor:             3,
			VNodesPerNode:      64,
			WriteTimeoutMs:     2000,
			ReadTimeoutMs:      2000,
			StabilizeTimeoutMs: 5000,
		},
		Gossip: GossipConfig{
			Port: 7946,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "node", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, nil
	}

	return parsedCfg, nil
}

// MustLoad loads configuration or exits on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
