// chatserver 房间聊天参考服务端
//
//	chatserver -c configs/chatserver.yaml
//	FORUM_BROKER_DRIVER=redis chatserver --addr :9000
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tokmz/forum/internal/server"
	"github.com/tokmz/forum/pkg/config"
	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/tracing"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatserver: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("chatserver", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "配置文件路径，缺省时查找 ./chatserver.yaml 与 ./configs/chatserver.yaml")
	fs.String("addr", "", "监听地址，如 :8080")
	fs.String("log-level", "", "日志级别 debug/info/warn/error")
	fs.String("backlog", "", "历史消息存储 memory/redis")
	fs.String("broker", "", "跨节点分发 local/redis/amqp")
	fs.String("redis-addr", "", "Redis 地址")
	fs.String("amqp-url", "", "RabbitMQ 地址，broker 为 amqp 时使用")
	quiet := fs.BoolP("quiet", "q", false, "不输出启动信息")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := logger.Nop()
	opts := []config.Option{
		config.WithDefaults(server.Defaults()),
		config.WithEnvPrefix("FORUM"),
		config.WithFlag("server.addr", fs.Lookup("addr")),
		config.WithFlag("log.level", fs.Lookup("log-level")),
		config.WithFlag("backlog.driver", fs.Lookup("backlog")),
		config.WithFlag("broker.driver", fs.Lookup("broker")),
		config.WithFlag("backlog.redis.addr", fs.Lookup("redis-addr")),
		config.WithFlag("broker.amqp.url", fs.Lookup("amqp-url")),
		config.WithOnError(func(err error) { log.Warn("config reload failed", zap.Error(err)) }),
	}
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	} else {
		opts = append(opts,
			config.WithConfigName("chatserver"),
			config.WithConfigType("yaml"),
			config.WithConfigPaths(".", "./configs"),
			config.WithOptional(true),
		)
	}

	settings, cfg, err := config.Load[server.Settings](opts...)
	if err != nil {
		return err
	}
	defer cfg.Close()

	logCfg, err := settings.Log.LoggerConfig()
	if err != nil {
		return err
	}
	if log, err = logger.New(logCfg); err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := tracing.NewTracerProvider(ctx, &settings.Tracing); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	srv, err := server.New(settings, log)
	if err != nil {
		return err
	}

	// 配置文件变更时只热更新日志级别，其余配置需要重启
	if cfg.ConfigFileUsed() != "" {
		err := config.Watch(cfg, func(next *server.Settings) {
			level, err := logger.ParseLevel(next.Log.Level)
			if err != nil {
				log.Warn("ignore invalid log level", zap.String("level", next.Log.Level))
				return
			}
			srv.SetLogLevel(level)
			log.Info("log level reloaded", zap.Stringer("level", level))
		})
		if err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	if !*quiet {
		srv.PrintBanner(os.Stdout)
	}
	return srv.Run(ctx)
}
