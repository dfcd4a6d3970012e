package handler

import (
	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/internal/service"
	"github.com/d60-Lab/fedrelay/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler HTTP 处理器集合
type Handler struct {
	db            *gorm.DB
	inboxService  service.InboxService
	outboxService service.OutboxService
	outboxRepo    repository.OutboxRepository
	origin        string
}

func New(db *gorm.DB, inboxService service.InboxService, outboxService service.OutboxService, outboxRepo repository.OutboxRepository, origin string) *Handler {
	return &Handler{db: db, inboxService: inboxService, outboxService: outboxService, outboxRepo: outboxRepo, origin: origin}
}

// Health 健康检查
// @Summary 健康检查
// @Tags 运维
// @Success 200 {object} response.Response
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "up"})
}
