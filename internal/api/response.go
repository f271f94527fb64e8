// Package api HTTP 接口的统一响应
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/tracing"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID
}

// Success 成功响应
func Success(c *gin.Context, data any) {
	respond(c, http.StatusOK, &Response{Code: http.StatusOK, Data: data, Message: "success"})
}

// Fail 按错误码响应，未知错误按服务器异常处理但保留原始信息
func Fail(c *gin.Context, err error) {
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		respond(c, bizErr.HttpCode, &Response{Code: bizErr.Code, Message: bizErr.Message})
		return
	}

	message := errors.ErrServer.Message
	if err != nil {
		message = err.Error()
	}
	respond(c, errors.ErrServer.HttpCode, &Response{Code: errors.ErrServer.Code, Message: message})
}

// BindJSON 绑定请求体，失败时直接响应 400
func BindJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		wrapped := errors.ErrBadRequest.WithError(err)
		Fail(c, wrapped)
		return wrapped
	}
	return nil
}

func respond(c *gin.Context, status int, resp *Response) {
	if traceID := tracing.TraceID(c.Request.Context()); traceID != "" {
		resp.TraceID = traceID
	}
	c.JSON(status, resp)
}
