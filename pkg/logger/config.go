package logger

import (
	"io"

	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	// 基础配置
	Level  Level  `mapstructure:"level"`  // 日志级别（默认 InfoLevel）
	Format Format `mapstructure:"format"` // 日志格式（json/console，默认 json）
	Name   string `mapstructure:"name"`   // Logger 名称

	// 输出配置
	Console bool          `mapstructure:"console"` // 是否输出到标准错误（默认 true）
	File    string        `mapstructure:"file"`    // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig `mapstructure:"rotate"`  // 轮转配置（nil 则不轮转）
	Output  io.Writer     `mapstructure:"-"`       // 额外输出（测试用）

	// 性能配置
	Sampling *SamplingConfig `mapstructure:"sampling"` // 采样配置（nil 则不采样）

	// 功能配置
	EnableCaller     bool `mapstructure:"caller"`     // 是否记录调用位置
	EnableStacktrace bool `mapstructure:"stacktrace"` // 是否记录堆栈（Error 及以上）

	// 扩展配置
	EncoderConfig *zapcore.EncoderConfig `mapstructure:"-"` // 自定义 Encoder 配置
	Hooks         []Hook                 `mapstructure:"-"` // Hook 列表
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 没有任何输出时默认输出到控制台
	if !c.Console && c.File == "" && c.Rotate == nil && c.Output == nil {
		c.Console = true
	}
}
