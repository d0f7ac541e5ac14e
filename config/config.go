// Package config is the server's configuration layer: a typed Config
// struct matching spec.md §6's options, populated by viper's layered
// env-override/file/default model, per SPEC_FULL.md's ambient stack
// decision to swap the teacher's hand-rolled reflection config
// manager for github.com/spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CompressConfig mirrors spec.md §6's server.compress.* options.
type CompressConfig struct {
	Enable  bool `mapstructure:"enable"`
	Level   int  `mapstructure:"level"`
	MinSize int  `mapstructure:"minsize"`
}

// ServerConfig mirrors spec.md §6's server.* options.
type ServerConfig struct {
	Signature    string         `mapstructure:"signature"`
	ErrorMinSize int            `mapstructure:"errorminsize"`
	NoticeDetail bool           `mapstructure:"noticedetail"`
	Compress     CompressConfig `mapstructure:"compress"`
}

// PoolConfig mirrors spec.md §6's pool.* ConnPool sizing options.
type PoolConfig struct {
	MinThreads    int           `mapstructure:"minthreads"`
	MaxThreads    int           `mapstructure:"maxthreads"`
	ThreadTimeout time.Duration `mapstructure:"threadtimeout"`
	HighWaterMark int           `mapstructure:"highwatermark"`
	LowWaterMark  int           `mapstructure:"lowwatermark"`
}

// PoolsConfig mirrors spec.md §6's pools.* DB-handle pool options. DSN
// is empty by default, meaning app.New skips creating a dbpool.Pool
// entirely (the gorm/sqlite domain dependency is only exercised when a
// server actually configures a database).
type PoolsConfig struct {
	DSN           string        `mapstructure:"dsn"`
	Connections   int           `mapstructure:"connections"`
	MaxIdle       time.Duration `mapstructure:"maxidle"`
	MaxOpen       time.Duration `mapstructure:"maxopen"`
	CheckInterval time.Duration `mapstructure:"checkinterval"`
}

// JobQueueConfig mirrors spec.md §6's jobqueue.* background worker
// options.
type JobQueueConfig struct {
	Enable  bool `mapstructure:"enable"`
	Workers int  `mapstructure:"workers"`
}

// DriverConfig mirrors spec.md §6's driver.* options.
type DriverConfig struct {
	Listen        string        `mapstructure:"listen"`
	MaxInput      int64         `mapstructure:"maxinput"`
	MaxUpload     int64         `mapstructure:"maxupload"`
	ReadAhead     int           `mapstructure:"readahead"`
	KeepWait      time.Duration `mapstructure:"keepwait"`
	SendWait      time.Duration `mapstructure:"sendwait"`
	RecvWait      time.Duration `mapstructure:"recvwait"`
	WriterThreads int           `mapstructure:"writerthreads"`
}

// WriterConfig mirrors spec.md §6's writer.* options.
type WriterConfig struct {
	MaxSize   int64 `mapstructure:"maxsize"`
	Streaming bool  `mapstructure:"streaming"`
}

// Config is the fully-typed server configuration, unmarshalled from
// viper by Load.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Pool   PoolConfig   `mapstructure:"pool"`
	Pools  PoolsConfig  `mapstructure:"pools"`
	Driver DriverConfig `mapstructure:"driver"`
	Writer WriterConfig `mapstructure:"writer"`
	JobQueue JobQueueConfig `mapstructure:"jobqueue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.signature", "NaviServer-Go/1.0")
	v.SetDefault("server.errorminsize", 512)
	v.SetDefault("server.noticedetail", true)
	v.SetDefault("server.compress.enable", false)
	v.SetDefault("server.compress.level", 6)
	v.SetDefault("server.compress.minsize", 1024)

	v.SetDefault("pool.minthreads", 1)
	v.SetDefault("pool.maxthreads", 10)
	v.SetDefault("pool.threadtimeout", "2m")
	v.SetDefault("pool.highwatermark", 128)
	v.SetDefault("pool.lowwatermark", 64)

	v.SetDefault("pools.dsn", "")
	v.SetDefault("pools.connections", 4)
	v.SetDefault("pools.maxidle", "5m")
	v.SetDefault("pools.maxopen", "1h")
	v.SetDefault("pools.checkinterval", "1m")

	v.SetDefault("jobqueue.enable", false)
	v.SetDefault("jobqueue.workers", 0)

	v.SetDefault("driver.listen", ":8080")
	v.SetDefault("driver.maxinput", 1<<20)
	v.SetDefault("driver.maxupload", 10<<20)
	v.SetDefault("driver.readahead", 16<<20)
	v.SetDefault("driver.keepwait", "1m")
	v.SetDefault("driver.sendwait", "1m")
	v.SetDefault("driver.recvwait", "30s")
	v.SetDefault("driver.writerthreads", 1)

	v.SetDefault("writer.maxsize", 32<<10)
	v.SetDefault("writer.streaming", true)
}

// New builds a viper instance reading NAVISERVER_-prefixed environment
// variables and, if present, a naviserver.{yaml,json,toml} config file
// from the given search paths, and unmarshals it into a Config.
func New(configPaths ...string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("naviserver")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("naviserver")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg, err := Load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Load unmarshals v into a Config, applying defaults for any key not
// already set.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
