// Package config 读取服务配置：命令行 > 环境变量(ROOMSYNC_) > 配置文件 > 默认值
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"roomsync/internal/room"
)

type Config struct {
	Addr      string          `mapstructure:"addr"`
	Log       LogConfig       `mapstructure:"log"`
	Room      RoomConfig      `mapstructure:"room"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	WS        WSConfig        `mapstructure:"ws"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type LogConfig struct {
	File    string `mapstructure:"file"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type RoomConfig struct {
	Capacity          int           `mapstructure:"capacity"`
	WorldWidth        float64       `mapstructure:"world_width"`
	WorldHeight       float64       `mapstructure:"world_height"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	AutoCreate        bool          `mapstructure:"auto_create"`
}

type HeartbeatConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	EmptyRoomTTL time.Duration `mapstructure:"empty_room_ttl"`
}

type WSConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
	QueueSize int           `mapstructure:"queue_size"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// AuthConfig mode: jwt | dev
type AuthConfig struct {
	Mode   string `mapstructure:"mode"`
	Secret string `mapstructure:"secret"`
}

const envPrefix = "ROOMSYNC"

// setDefaults 与 room.DefaultConfig 保持一致
func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("log.file", "app.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	v.SetDefault("room.capacity", 2)
	v.SetDefault("room.world_width", 800.0)
	v.SetDefault("room.world_height", 600.0)
	v.SetDefault("room.broadcast_interval", 50*time.Millisecond)
	v.SetDefault("room.auto_create", true)

	v.SetDefault("heartbeat.interval", 10*time.Second)
	v.SetDefault("heartbeat.timeout", 60*time.Second)
	v.SetDefault("heartbeat.empty_room_ttl", 5*time.Minute)

	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.write_wait", 5*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.max_message_size", int64(1<<20))

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis.op_timeout", time.Second)
	v.SetDefault("redis.queue_size", 1024)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "roomsync")

	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.secret", "")
}

// Flags 注册命令行参数；flag 名与配置键一一对应
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml)")
	fs.String("addr", ":8080", "http service address")
	fs.String("log.file", "app.log", "log file path")
	fs.String("log.level", "info", "log level: debug|info|warn|error")
	fs.Bool("log.console", false, "also log to stderr")
	fs.Int("room.capacity", 2, "players per room (1..2)")
	fs.Duration("room.broadcast_interval", 50*time.Millisecond, "state broadcast interval")
	fs.Duration("heartbeat.timeout", 60*time.Second, "evict players idle longer than this")
	fs.Bool("redis.enabled", false, "mirror room state to redis")
	fs.String("redis.url", "redis://127.0.0.1:6379/0", "redis url")
	fs.Bool("nats.enabled", false, "publish lifecycle events to nats")
	fs.String("nats.url", "nats://127.0.0.1:4222", "nats url")
	fs.String("auth.mode", "jwt", "identity provider: jwt|dev")
}

// Load 解析参数并读取配置
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("roomsync", pflag.ContinueOnError)
	Flags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags 从已解析的 FlagSet 读取配置
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	var problems []error
	if c.Room.Capacity < 1 || c.Room.Capacity > room.MaxCapacity {
		problems = append(problems, fmt.Errorf("room.capacity must be in 1..%d, got %d", room.MaxCapacity, c.Room.Capacity))
	}
	if c.Room.WorldWidth <= 0 || c.Room.WorldHeight <= 0 {
		problems = append(problems, errors.New("room world size must be positive"))
	}
	if c.Room.BroadcastInterval <= 0 {
		problems = append(problems, errors.New("room.broadcast_interval must be positive"))
	}
	if c.Heartbeat.Interval <= 0 {
		problems = append(problems, errors.New("heartbeat.interval must be positive"))
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		problems = append(problems, errors.New("heartbeat.timeout must be longer than heartbeat.interval"))
	}
	if c.WS.SendBuffer <= 0 {
		problems = append(problems, errors.New("ws.send_buffer must be positive"))
	}
	if c.WS.WriteWait <= 0 || c.WS.PongWait <= 0 || c.WS.MaxMessageSize <= 0 {
		problems = append(problems, errors.New("ws timeouts and max_message_size must be positive"))
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.Secret == "" {
			problems = append(problems, errors.New("auth.secret is required in jwt mode"))
		}
	case "dev":
	default:
		problems = append(problems, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}
	return errors.Join(problems...)
}

// RoomOptions 转换为房间引擎参数
func (c *Config) RoomOptions() room.Config {
	return room.Config{
		Capacity:          c.Room.Capacity,
		WorldWidth:        c.Room.WorldWidth,
		WorldHeight:       c.Room.WorldHeight,
		BroadcastInterval: c.Room.BroadcastInterval,
		AutoCreate:        c.Room.AutoCreate,
	}
}
