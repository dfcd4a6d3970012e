package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/model"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/internal/service"
)

const testOrigin = "https://node.example.com"

// stubInboxService 按预置结果应答
type stubInboxService struct {
	err   error
	calls int
}

func (s *stubInboxService) Admit(ctx context.Context, req *service.InboxRequest) error {
	s.calls++
	return s.err
}

type stubOutboxService struct {
	id  string
	err error
}

func (s *stubOutboxService) CreateObject(ctx context.Context, object map[string]any) (string, error) {
	return s.id, s.err
}

func setupRouter(t *testing.T, inbox *stubInboxService, outbox *stubOutboxService) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Outbox{}))

	h := New(db, inbox, outbox, repository.NewOutboxRepository(), testOrigin)
	r := gin.New()
	r.GET("/healthz", h.Health)
	r.POST("/inbox", h.Inbox)
	r.POST("/outbox", h.CreateObject)
	r.GET("/objects/:id", h.GetObject)
	r.GET("/objects/:id/activity", h.GetActivity)
	return r, db
}

func TestInboxAccepted(t *testing.T) {
	inbox := &stubInboxService{}
	r, _ := setupRouter(t, inbox, &stubOutboxService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{"id":"x"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 1, inbox.calls)
}

func TestInboxRejectionPassesThrough(t *testing.T) {
	inbox := &stubInboxService{err: &service.AdmitError{Status: http.StatusBadRequest, Reason: "Invalid request body"}}
	r, _ := setupRouter(t, inbox, &stubOutboxService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", w.Body.String())
}

func TestInboxInternalError(t *testing.T) {
	inbox := &stubInboxService{err: context.DeadlineExceeded}
	r, _ := setupRouter(t, inbox, &stubOutboxService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetObjectPublic(t *testing.T) {
	r, db := setupRouter(t, &stubInboxService{}, &stubOutboxService{})
	require.NoError(t, db.Create(&model.Outbox{
		ID:        testOrigin + "/objects/abc",
		Object:    `{"id":"` + testOrigin + `/objects/abc","type":"Note"}`,
		Activity:  `{"id":"` + testOrigin + `/objects/abc/activity"}`,
		HasPublic: true,
		CreatedAt: time.Now(),
	}).Error)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/objects/abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/ld+json")
	assert.Contains(t, w.Body.String(), `"type":"Note"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/objects/abc/activity", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/activity")
}

func TestGetObjectPrivateForbidden(t *testing.T) {
	r, db := setupRouter(t, &stubInboxService{}, &stubOutboxService{})
	require.NoError(t, db.Create(&model.Outbox{
		ID:        testOrigin + "/objects/priv",
		Object:    `{}`,
		Activity:  `{}`,
		HasPublic: false,
		CreatedAt: time.Now(),
	}).Error)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/objects/priv", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetObjectNotFound(t *testing.T) {
	r, _ := setupRouter(t, &stubInboxService{}, &stubOutboxService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/objects/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateObjectEndpoint(t *testing.T) {
	outbox := &stubOutboxService{id: testOrigin + "/objects/new"}
	r, _ := setupRouter(t, &stubInboxService{}, outbox)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/outbox", strings.NewReader(`{"type":"Note","content":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testOrigin+"/objects/new")
}
