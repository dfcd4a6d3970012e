package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/fedrelay/pkg/response"
)

// CreateObject 发布对象并扇出投递义务（内部接口，供领域层调用）
// @Summary 发布对象
// @Tags 联邦
// @Accept json
// @Produce json
// @Param request body map[string]interface{} true "对象文档，to/cc/bcc 决定收件人"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /outbox [post]
func (h *Handler) CreateObject(c *gin.Context) {
	var object map[string]any
	if err := c.ShouldBindJSON(&object); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	id, err := h.outboxService.CreateObject(c.Request.Context(), object)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}
