package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/forum/internal/api"
	"github.com/tokmz/forum/pkg/logger"
)

type issueRequest struct {
	Username string `json:"username" binding:"required"`
}

// Handler 令牌 HTTP 接口
type Handler struct {
	svc *Service
	log logger.Logger
}

// NewHandler 创建 Handler
func NewHandler(svc *Service, log logger.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("auth")}
}

// Register 注册 POST /token 与 POST /refresh
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/token", h.issue)
	r.POST("/refresh", h.refresh)
}

func (h *Handler) issue(c *gin.Context) {
	var req issueRequest
	if api.BindJSON(c, &req) != nil {
		return
	}
	tok, err := h.svc.Issue(req.Username)
	if err != nil {
		api.Fail(c, err)
		return
	}
	h.log.InfoContext(c.Request.Context(), "token issued", zap.String("username", strings.TrimSpace(req.Username)))
	api.Success(c, tok)
}

func (h *Handler) refresh(c *gin.Context) {
	tok, err := h.svc.Refresh(BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		h.log.WarnContext(c.Request.Context(), "token refresh rejected", zap.Error(err))
		api.Fail(c, err)
		return
	}
	api.Success(c, tok)
}

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
