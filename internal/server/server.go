// Package server 聊天服务的 HTTP 宿主：/ws 升级、/auth 令牌接口、/healthz 与优雅关机
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/forum/internal/api"
	"github.com/tokmz/forum/internal/auth"
	"github.com/tokmz/forum/internal/backlog"
	"github.com/tokmz/forum/internal/hub"
	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/tracing"
	"github.com/tokmz/forum/pkg/ws"
)

const healthPath = "/healthz"

// Server 聊天服务
type Server struct {
	cfg     *Settings
	log     logger.Logger
	engine  *gin.Engine
	http    *http.Server
	manager *ws.Manager
	hub     *hub.Hub
	store   backlog.Store
	redis   redis.UniversalClient // backlog 与 broker 共用，未使用 redis 时为 nil
	auth    *auth.Service
	metrics *counters
}

// New 按配置组装服务，未监听端口
func New(cfg *Settings, log logger.Logger) (srv *Server, err error) {
	if cfg == nil {
		cfg = DefaultSettings()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{cfg: cfg, log: log, metrics: newCounters()}
	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	if cfg.Backlog.Driver == backlog.DriverRedis || cfg.Broker.Driver == BrokerRedis {
		if s.redis, err = backlog.NewRedisClient(&cfg.Backlog.Redis); err != nil {
			return nil, err
		}
	}

	if cfg.Backlog.Driver == backlog.DriverRedis {
		s.store = backlog.NewRedisStore(s.redis, &cfg.Backlog)
		if cfg.Backlog.Tracing {
			s.store = backlog.NewTracing(s.store)
		}
	} else if s.store, err = backlog.New(&cfg.Backlog); err != nil {
		return nil, err
	}

	if s.manager, err = ws.NewManager(log, ws.WithConfig(cfg.WS), ws.WithMetrics(s.metrics)); err != nil {
		return nil, err
	}

	hubOpts := []hub.Option{hub.WithLogger(log)}
	if cfg.Auth.Secret != "" || cfg.Auth.Enabled {
		if s.auth, err = auth.NewService(cfg.Auth); err != nil {
			return nil, err
		}
		hubOpts = append(hubOpts, hub.WithVerifier(s.auth))
	}
	// broker 最后创建，之后的步骤不会失败
	switch cfg.Broker.Driver {
	case BrokerRedis:
		hubOpts = append(hubOpts, hub.WithBroker(hub.NewRedisBroker(s.redis, cfg.Broker.Prefix, log)))
	case BrokerAMQP:
		b, err := hub.NewAMQPBroker(cfg.Broker.AMQP.URL, cfg.Broker.AMQP.Exchange, log)
		if err != nil {
			return nil, err
		}
		hubOpts = append(hubOpts, hub.WithBroker(b))
	}
	s.hub = hub.New(s.manager, s.store, hubOpts...)

	s.engine = s.routes()
	s.http = &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        s.engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	if s.cfg.Server.Mode != "" {
		gin.SetMode(s.cfg.Server.Mode)
	}
	silenceGin()
	e := gin.New()
	if s.cfg.Server.TrustedProxies != nil {
		if err := e.SetTrustedProxies(s.cfg.Server.TrustedProxies); err != nil {
			s.log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}

	skip := func(path string) bool { return path == healthPath }
	e.Use(gin.Recovery(), tracing.Middleware(skip), logger.Middleware(s.log.Named("http")))

	e.GET(healthPath, s.health)
	e.GET("/ws", s.upgrade)
	if s.auth != nil {
		g := e.Group("/auth")
		if len(s.cfg.Server.CORSOrigins) > 0 {
			g.Use(cors(s.cfg.Server.CORSOrigins))
			g.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		}
		if s.cfg.Server.AuthRate > 0 {
			g.Use(newRateLimiter(s.cfg.Server.AuthRate, s.cfg.Server.AuthBurst).middleware())
		}
		auth.NewHandler(s.auth, s.log).Register(g)
	}
	return e
}

// health 存储可用时返回 ws 计数
func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		api.Fail(c, ErrUnavailable.WithError(err))
		return
	}
	api.Success(c, s.metrics.snapshot())
}

// upgrade GET /ws?username=
func (s *Server) upgrade(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if err := s.manager.HandleUpgrade(c.Writer, c.Request, ws.WithUsername(username)); err != nil {
		s.log.WarnContext(c.Request.Context(), "websocket upgrade failed", zap.String("username", username), zap.Error(err))
	}
}

// Handler 返回 HTTP 处理器（测试使用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 注册房间服务并启动 ws 管理器，须在处理连接前调用一次
func (s *Server) Start(ctx context.Context) error {
	if err := s.hub.Register(ctx); err != nil {
		return err
	}
	s.manager.Run()
	return nil
}

// Run 启动并监听，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("chat server listening", zap.String("addr", s.cfg.Server.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down chat server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown 依次关闭 HTTP、ws 连接、Broker 与存储
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.hub.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SetLogLevel 热更新日志级别
func (s *Server) SetLogLevel(level logger.Level) {
	s.log.SetLevel(level)
}

func (s *Server) closeResources() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
