package server

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 服务版本号
const Version = "0.3.0"

const banner = `
  forum chat  %s
  ws:   %s/ws?username=<name>
  auth: %s
`

const resetColor = "\033[0m"

// PrintBanner 输出启动信息与路由表
func (s *Server) PrintBanner(out io.Writer) {
	base := listenURL(s.cfg.Server.Addr)
	authState := "disabled"
	if s.auth != nil {
		authState = "POST " + base + "/auth/token"
		if s.auth.Enabled() {
			authState += " (required for room.join)"
		}
	}
	bprintf(out, banner, Version, strings.Replace(base, "http", "ws", 1), authState)
	bprintf(out, "\n")

	routes := s.engine.Routes()
	width := 0
	for _, r := range routes {
		width = max(width, len(r.Path))
	}
	for _, r := range routes {
		bprintf(out, "[chat] %s%-7s%s %-*s --> %s\n", methodColor(r.Method), r.Method, resetColor, width, r.Path, r.Handler)
	}
	bprintf(out, "\n[chat] mode=%s backlog=%s broker=%s go=%s %s/%s\n",
		gin.Mode(), s.cfg.Backlog.Driver, s.cfg.Broker.Driver, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// listenURL 监听地址转换为可访问地址
func listenURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		return "http://127.0.0.1" + addr
	case strings.Contains(addr, ":"):
		return "http://" + addr
	default:
		return "http://127.0.0.1:" + addr
	}
}

func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	default:
		return resetColor
	}
}

// silenceGin 由访问日志中间件接管 gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

func bprintf(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
