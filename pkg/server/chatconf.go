package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/crystal-mush/mushchat/pkg/chatdb"
	"github.com/crystal-mush/mushchat/pkg/format"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StoreConf selects and configures the per-player KV backend. Every field
// can be overridden from the environment.
type StoreConf struct {
	Backend       string `yaml:"backend" env:"CHAT_STORE_BACKEND"`
	Path          string `yaml:"path" env:"CHAT_STORE_PATH"`
	Timeout       int    `yaml:"timeout" env:"CHAT_STORE_TIMEOUT"` // seconds
	RedisAddr     string `yaml:"redis_addr" env:"CHAT_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"CHAT_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CHAT_REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"CHAT_REDIS_PREFIX"`
}

// ChatConf holds chat engine configuration.
type ChatConf struct {
	// DefaultChannel is where players land when they have no valid focus.
	DefaultChannel string `yaml:"default_channel"`

	// --- Permission fallbacks ---
	PermissionLevel int `yaml:"permission_level"` // channel permission nodes
	MarkupLevel     int `yaml:"markup_level"`     // chat.color / chat.format

	// --- Persistence ---
	AutosaveInterval int       `yaml:"autosave_interval"` // seconds, 0 = off
	Store            StoreConf `yaml:"store"`

	// ChatLog writes channel traffic to the server log.
	ChatLog bool `yaml:"chat_log"`

	Obscure format.Params `yaml:"obscure"`

	Channels []chatdb.RawChannelDef `yaml:"channels"`
	// ChannelFiles are extra YAML files holding a channel list, resolved
	// relative to the config file.
	ChannelFiles []string `yaml:"channel_files"`
}

// DefaultChatConf returns a ChatConf with sensible defaults.
func DefaultChatConf() ChatConf {
	return ChatConf{
		DefaultChannel:   "global",
		PermissionLevel:  2,
		MarkupLevel:      1,
		AutosaveInterval: 300,
		Store: StoreConf{
			Backend:     BackendBolt,
			Path:        "data/chat.bolt",
			Timeout:     3,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "mushchat",
		},
		ChatLog: true,
		Obscure: format.DefaultParams(),
	}
}

// Autosave returns the autosave period, or 0 when disabled.
func (c ChatConf) Autosave() time.Duration {
	if c.AutosaveInterval <= 0 {
		return 0
	}
	return time.Duration(c.AutosaveInterval) * time.Second
}

// channelFile is the layout of a file listed in channel_files.
type channelFile struct {
	Channels []chatdb.RawChannelDef `yaml:"channels"`
}

// LoadChatConf reads a YAML config file, appends any channel files it
// names, then applies environment overrides to the storage block.
func LoadChatConf(path string) (ChatConf, error) {
	conf := DefaultChatConf()
	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("chatconf: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("chatconf: parse %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for _, f := range conf.ChannelFiles {
		if !filepath.IsAbs(f) {
			f = filepath.Join(baseDir, f)
		}
		defs, err := loadChannelFile(f)
		if err != nil {
			return conf, err
		}
		conf.Channels = append(conf.Channels, defs...)
	}

	if err := ParseEnv(&conf.Store); err != nil {
		return conf, fmt.Errorf("chatconf: %w", err)
	}
	if conf.Obscure.Placeholder == "" {
		log.Printf("chatconf: WARNING: empty obscure placeholder, using %q", format.DefaultParams().Placeholder)
		conf.Obscure.Placeholder = format.DefaultParams().Placeholder
	}
	log.Printf("chatconf: loaded %s (%d channel definitions, store=%s)", path, len(conf.Channels), conf.Store.Backend)
	return conf, nil
}

func loadChannelFile(path string) ([]chatdb.RawChannelDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chatconf: read channel file %s: %w", path, err)
	}
	var cf channelFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("chatconf: parse channel file %s: %w", path, err)
	}
	return cf.Channels, nil
}

// ParseEnv populates target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
