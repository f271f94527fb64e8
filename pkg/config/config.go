package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config 配置管理器
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	// 配置文件
	configFile  string
	configName  string
	configType  string
	configPaths []string
	optional    bool // 找不到配置文件时仅使用默认值与环境变量

	// 监控
	autoWatch bool
	watching  bool
	onChange  func()
	onError   func(error)

	defaults  map[string]any
	envPrefix string
	flags     []flagBinding
}

type flagBinding struct {
	key  string
	flag *pflag.Flag
}

// New 创建配置管理器
func New(opts ...Option) *Config {
	c := &Config{viper: viper.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取配置文件、默认值与环境变量
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	// 环境变量：前缀 + 大写键名，"." 替换为 "_"（如 FORUM_SERVER_ADDR）
	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.viper.AutomaticEnv()
	}

	for _, b := range c.flags {
		if err := c.viper.BindPFlag(b.key, b.flag); err != nil {
			return fmt.Errorf("%w: bind flag %s: %w", ErrConfigReadFailed, b.flag.Name, err)
		}
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		if c.configName != "" {
			c.viper.SetConfigName(c.configName)
		}
		if c.configType != "" {
			c.viper.SetConfigType(c.configType)
		}
		for _, path := range c.configPaths {
			c.viper.AddConfigPath(path)
		}
	}

	if c.configFile == "" && c.configName == "" {
		if c.optional {
			return nil
		}
		return ErrConfigNotFound
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if c.optional {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConfigNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
	}

	if c.autoWatch {
		c.startWatch()
	}
	return nil
}

// Load 加载配置并反序列化为 T
func Load[T any](opts ...Option) (*T, *Config, error) {
	c := New(opts...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}
	out := new(T)
	if err := c.Unmarshal(out); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfigDecodeFailed, err)
	}
	return out, c, nil
}

// GetString 获取字符串配置值
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// GetInt 获取整数配置值
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetInt(key)
}

// GetBool 获取布尔配置值
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetBool(key)
}

// GetDuration 获取时间间隔配置值
func (c *Config) GetDuration(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetDuration(key)
}

// Set 设置配置值
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// IsSet 检查配置键是否存在
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.IsSet(key)
}

// Unmarshal 将配置反序列化到结构体
func (c *Config) Unmarshal(rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.Unmarshal(rawVal)
}

// UnmarshalKey 将指定 key 的配置反序列化到结构体
func (c *Config) UnmarshalKey(key string, rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.UnmarshalKey(key, rawVal)
}

// ConfigFileUsed 实际读取的配置文件路径
func (c *Config) ConfigFileUsed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.ConfigFileUsed()
}

// Close 停止监控
func (c *Config) Close() {
	c.StopWatch()
}
