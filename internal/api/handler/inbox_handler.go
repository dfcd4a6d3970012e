package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/fedrelay/internal/service"
	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// Inbox 接收远端节点投递的活动
// @Summary 联邦协议 inbox
// @Tags 联邦
// @Accept json
// @Success 202 "已接受"
// @Failure 400 {string} string "非法或未通过验签的请求"
// @Router /inbox [post]
func (h *Handler) Inbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid request body")
		return
	}

	req := &service.InboxRequest{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Host:   c.Request.Host,
		Body:   body,
		Header: c.Request.Header,
	}
	if err := h.inboxService.Admit(c.Request.Context(), req); err != nil {
		var admitErr *service.AdmitError
		if errors.As(err, &admitErr) {
			logger.Info("inbox request rejected",
				zap.Int("status", admitErr.Status), zap.String("reason", admitErr.Reason))
			c.String(admitErr.Status, admitErr.Reason)
			return
		}
		logger.Error("inbox admission failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}

	// 去重命中与未处理的活动类型同样回 202
	c.Status(http.StatusAccepted)
}
