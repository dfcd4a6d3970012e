package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/pkg/response"
)

// GetObject 读取本节点发布的公开对象
// @Summary 读取对象
// @Tags 联邦
// @Param id path string true "对象 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /objects/{id} [get]
func (h *Handler) GetObject(c *gin.Context) {
	row, err := h.outboxRepo.GetByID(c.Request.Context(), h.db, h.origin+"/objects/"+c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if row == nil {
		response.NotFound(c, "object not found")
		return
	}
	if !row.HasPublic {
		response.Forbidden(c, "forbidden")
		return
	}
	c.Data(http.StatusOK, apub.ASMIME, []byte(row.Object))
}

// GetActivity 读取对象的包装活动
// @Summary 读取活动
// @Tags 联邦
// @Param id path string true "对象 ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /objects/{id}/activity [get]
func (h *Handler) GetActivity(c *gin.Context) {
	row, err := h.outboxRepo.GetByID(c.Request.Context(), h.db, h.origin+"/objects/"+c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if row == nil {
		response.NotFound(c, "object not found")
		return
	}
	if !row.HasPublic {
		response.Forbidden(c, "forbidden")
		return
	}
	c.Data(http.StatusOK, apub.ASMIME, []byte(row.Activity))
}
