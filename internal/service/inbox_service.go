package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/internal/jsonld"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/pkg/httpsig"
	"github.com/d60-Lab/fedrelay/pkg/logger"
)

// AdmitError 准入失败，携带应答状态码与原因
type AdmitError struct {
	Status int
	Reason string
}

func (e *AdmitError) Error() string { return fmt.Sprintf("%d %s", e.Status, e.Reason) }

func reject(reason string) error { return &AdmitError{Status: http.StatusBadRequest, Reason: reason} }

// InboxRequest 入站请求中参与准入判定的部分
type InboxRequest struct {
	Method string
	Path   string
	Host   string
	Body   []byte
	Header http.Header
}

// InboxService 入站准入：校验、验签、去重、分类、分发。
// 返回 nil 表示接受（202），*AdmitError 表示按协议拒绝。
type InboxService interface {
	Admit(ctx context.Context, req *InboxRequest) error
}

type inboxService struct {
	db         *gorm.DB
	inboxRepo  repository.InboxRepository
	resolver   *jsonld.Resolver
	dispatcher *Dispatcher
	domain     string
	relaxed    bool
}

func NewInboxService(db *gorm.DB, inboxRepo repository.InboxRepository, resolver *jsonld.Resolver, dispatcher *Dispatcher, domain string, relaxed bool) InboxService {
	if relaxed {
		logger.Warn("RELAXED VERIFY ENABLED: signature failures will be logged but NOT rejected; never run production like this")
	}
	return &inboxService{
		db:         db,
		inboxRepo:  inboxRepo,
		resolver:   resolver,
		dispatcher: dispatcher,
		domain:     domain,
		relaxed:    relaxed,
	}
}

func (s *inboxService) Admit(ctx context.Context, req *InboxRequest) error {
	var parsed map[string]any
	if err := json.Unmarshal(req.Body, &parsed); err != nil {
		return reject("Invalid request body")
	}
	id, _ := parsed["id"].(string)
	if id == "" {
		return reject("Invalid request body")
	}
	origin := apub.OriginOf(id)
	if origin == "" {
		return reject("Invalid activity ID, not a URL")
	}

	// 协议约定入站活动自包含，直接整体入图
	g := jsonld.NewGraph()
	if err := s.resolver.Load(ctx, g, parsed); err != nil {
		return reject(fmt.Sprintf("Activity document could not be loaded: %v", err))
	}
	activity := apub.ActivityOf(g, id)
	if activity.Type == "" || activity.Actor == "" {
		return reject("Incomplete activity object")
	}

	if err := s.verifySignature(ctx, g, req, activity.Actor); err != nil {
		if !s.relaxed {
			return reject(err.Error())
		}
		logger.Warn("relaxed mode: would reject signature in production", zap.Error(err))
	}

	// 活动 ID 与 actor 必须同源，防止跨域伪造活动身份
	if apub.OriginOf(activity.Actor) != origin {
		return reject("Activity and actor origins don't match")
	}

	if err := s.resolver.Load(ctx, g, activity.Actor); err != nil {
		return reject(fmt.Sprintf("Actor document could not be loaded: %v", err))
	}
	actor := apub.ActorOf(g, activity.Actor)

	inserted, err := s.inboxRepo.TryInsert(ctx, s.db, activity.ID, time.Now())
	if err != nil {
		return fmt.Errorf("inbox dedup insert: %w", err)
	}
	if !inserted {
		logger.Debug("ignoring duplicate activity", zap.String("activity", activity.ID))
		return nil
	}

	// 目前只处理 Create + Note
	if !apub.TypeIs(activity.Type, "Create") {
		return nil
	}
	if _, ok := parsed["object"].(map[string]any); !ok {
		return reject("Invalid object in 'Create' activity")
	}
	object := apub.ObjectOf(g, activity.Object)
	if !apub.TypeIs(object.Type, "Note") {
		return nil
	}
	if object.AttributedTo != activity.Actor {
		return reject("Activity creates note not attributed to the actor")
	}

	note := &Note{
		ID:        object.ID,
		Actor:     actor,
		Content:   apub.ExtractText(object.Content),
		InReplyTo: object.InReplyTo,
		Mentions:  make(map[string]struct{}),
	}
	for _, tag := range object.Tags {
		if apub.TypeIs(tag.Type, "Mention") && tag.Href != "" {
			note.Mentions[tag.Href] = struct{}{}
		}
	}

	logger.Debug("note admitted", zap.String("actor", actor.ID), zap.String("note", note.ID))
	s.dispatcher.Enqueue(note)
	return nil
}

// verifySignature 验签并交叉校验 key 声明的属主与活动声称的 actor
func (s *inboxService) verifySignature(ctx context.Context, g *jsonld.Graph, req *InboxRequest, actor string) error {
	pub, err := httpsig.Verify(ctx, s.domain, &httpsig.Request{
		Method: req.Method,
		Path:   req.Path,
		Host:   req.Host,
		Body:   req.Body,
		Header: req.Header,
	}, s.keyResolver(g))
	if err != nil {
		return err
	}
	if pub.Owner != actor {
		return fmt.Errorf("signature does not match actor")
	}
	return nil
}

func (s *inboxService) keyResolver(g *jsonld.Graph) httpsig.KeyResolver {
	return func(ctx context.Context, keyID string) (*httpsig.PublicKey, error) {
		if err := s.resolver.Load(ctx, g, keyID); err != nil {
			return nil, err
		}
		key := apub.PublicKeyOf(g, keyID)
		return &httpsig.PublicKey{ID: key.ID, Owner: key.Owner, PEM: key.PublicKeyPEM}, nil
	}
}
