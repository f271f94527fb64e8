package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件变更，调用方持有 mu
func (c *Config) startWatch() {
	if c.watching {
		return
	}
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.mu.RLock()
		watching := c.watching
		onChange := c.onChange
		c.mu.RUnlock()

		if !watching || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if onChange != nil {
			onChange()
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// StartWatch 开始监控配置文件变更
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viper.ConfigFileUsed() == "" {
		return fmt.Errorf("%w: no config file loaded", ErrConfigNotFound)
	}
	c.startWatch()
	return nil
}

// StopWatch 停止监控
// viper 不提供关闭底层 watcher 的方法，此处仅使回调失效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// IsWatching 是否正在监控
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

// reportError 报告错误，优先使用 onError 回调
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	fmt.Fprintf(os.Stderr, "[config] %v\n", err)
}

// Watch 监控配置变更，每次变更后重新反序列化为 T 并回调
// 反序列化失败时通过 onError 报告，不回调
func Watch[T any](c *Config, fn func(*T)) error {
	c.mu.Lock()
	c.onChange = func() {
		out := new(T)
		if err := c.Unmarshal(out); err != nil {
			c.reportError(fmt.Errorf("%w: %w", ErrConfigDecodeFailed, err))
			return
		}
		fn(out)
	}
	c.mu.Unlock()
	return c.StartWatch()
}
