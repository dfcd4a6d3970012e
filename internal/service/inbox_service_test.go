package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/internal/jsonld"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/pkg/httpsig"
)

const (
	nodeDomain  = "node.example.com"
	peerActorID = "https://peer.example.com/actor"
	peerKeyID   = peerActorID + "#main-key"
)

// captureHandler 收集分发出来的笔记
type captureHandler struct {
	notes chan *Note
}

func (h *captureHandler) HandleNote(ctx context.Context, note *Note) error {
	h.notes <- note
	return nil
}

type inboxEnv struct {
	svc   InboxService
	notes chan *Note
	key   *rsa.PrivateKey
}

func newInboxEnv(t *testing.T, relaxed bool) *inboxEnv {
	t.Helper()
	db := setupServiceDB(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	capture := &captureHandler{notes: make(chan *Note, 16)}
	dispatcher := NewDispatcher(capture, 16)
	stop := dispatcher.Start(1)
	t.Cleanup(func() { _ = stop(context.Background()) })

	resolver := jsonld.NewResolver(jsonld.Options{Timeout: 5 * time.Second})
	svc := NewInboxService(db, repository.NewInboxRepository(), resolver, dispatcher, nodeDomain, relaxed)
	return &inboxEnv{svc: svc, notes: capture.notes, key: key}
}

func (e *inboxEnv) publicKeyPEM(t *testing.T) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&e.key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// createNoteActivity 构造自包含的 Create+Note 活动文档（actor 与公钥内嵌）
func (e *inboxEnv) createNoteActivity(t *testing.T, activityID string, mutate func(map[string]any)) []byte {
	t.Helper()
	activity := map[string]any{
		"@context": apub.ASContext,
		"id":       activityID,
		"type":     "Create",
		"actor": map[string]any{
			"id":                peerActorID,
			"type":              "Person",
			"preferredUsername": "alice",
			"inbox":             "https://peer.example.com/inbox",
			"publicKey": map[string]any{
				"id":           peerKeyID,
				"owner":        peerActorID,
				"publicKeyPem": e.publicKeyPEM(t),
			},
		},
		"object": map[string]any{
			"id":           "https://peer.example.com/note/1",
			"type":         "Note",
			"attributedTo": peerActorID,
			"content":      "<p>hello there</p>",
			"tag": []any{
				map[string]any{"type": "Mention", "href": "https://node.example.com/actor"},
			},
		},
	}
	if mutate != nil {
		mutate(activity)
	}
	body, err := json.Marshal(activity)
	require.NoError(t, err)
	return body
}

func (e *inboxEnv) signedInboxRequest(t *testing.T, body []byte) *InboxRequest {
	t.Helper()
	hdr := http.Header{}
	hdr.Set("Content-Type", apub.LegacyASMIME)
	u := &url.URL{Scheme: "https", Host: nodeDomain, Path: "/inbox"}
	require.NoError(t, httpsig.Sign(peerKeyID, e.key, http.MethodPost, u, body, hdr))
	return &InboxRequest{Method: http.MethodPost, Path: "/inbox", Host: nodeDomain, Body: body, Header: hdr}
}

func (e *inboxEnv) waitNote(t *testing.T) *Note {
	t.Helper()
	select {
	case note := <-e.notes:
		return note
	case <-time.After(2 * time.Second):
		t.Fatal("no note dispatched")
		return nil
	}
}

func (e *inboxEnv) assertNoNote(t *testing.T) {
	t.Helper()
	select {
	case note := <-e.notes:
		t.Fatalf("unexpected note dispatched: %s", note.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdmitSignedCreateNote(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", nil)

	require.NoError(t, env.svc.Admit(context.Background(), env.signedInboxRequest(t, body)))

	note := env.waitNote(t)
	assert.Equal(t, "https://peer.example.com/note/1", note.ID)
	assert.Equal(t, peerActorID, note.Actor.ID)
	assert.Equal(t, "alice", note.Actor.PreferredUsername)
	assert.Equal(t, "hello there\n", note.Content)
	assert.Contains(t, note.Mentions, "https://node.example.com/actor")
}

func TestAdmitDuplicateActivityOnce(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", nil)

	require.NoError(t, env.svc.Admit(context.Background(), env.signedInboxRequest(t, body)))
	env.waitNote(t)

	// 重复投递同一活动：接受但不再分发
	require.NoError(t, env.svc.Admit(context.Background(), env.signedInboxRequest(t, body)))
	env.assertNoNote(t)
}

func TestAdmitRejectsTamperedBody(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", nil)
	req := env.signedInboxRequest(t, body)
	req.Body = bytes.Replace(req.Body, []byte("hello there"), []byte("evil payload"), 1)

	err := env.svc.Admit(context.Background(), req)
	var admitErr *AdmitError
	require.ErrorAs(t, err, &admitErr)
	assert.Equal(t, http.StatusBadRequest, admitErr.Status)
	env.assertNoNote(t)
}

func TestAdmitRejectsUnsigned(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", nil)
	req := &InboxRequest{Method: http.MethodPost, Path: "/inbox", Host: nodeDomain, Body: body, Header: http.Header{}}

	err := env.svc.Admit(context.Background(), req)
	var admitErr *AdmitError
	require.ErrorAs(t, err, &admitErr)
	assert.Equal(t, http.StatusBadRequest, admitErr.Status)
}

func TestAdmitRelaxedModeAcceptsUnsigned(t *testing.T) {
	env := newInboxEnv(t, true)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", nil)
	req := &InboxRequest{Method: http.MethodPost, Path: "/inbox", Host: nodeDomain, Body: body, Header: http.Header{}}

	require.NoError(t, env.svc.Admit(context.Background(), req))
	env.waitNote(t)
}

func TestAdmitRejectsCrossOriginActor(t *testing.T) {
	env := newInboxEnv(t, false)
	// 活动 ID 与 actor 不同源
	body := env.createNoteActivity(t, "https://other.example.org/act/1", nil)

	err := env.svc.Admit(context.Background(), env.signedInboxRequest(t, body))
	var admitErr *AdmitError
	require.ErrorAs(t, err, &admitErr)
	assert.Contains(t, admitErr.Reason, "origins")
	env.assertNoNote(t)
}

func TestAdmitRejectsWrongAttribution(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", func(a map[string]any) {
		a["object"].(map[string]any)["attributedTo"] = "https://peer.example.com/other"
	})

	err := env.svc.Admit(context.Background(), env.signedInboxRequest(t, body))
	var admitErr *AdmitError
	require.ErrorAs(t, err, &admitErr)
	env.assertNoNote(t)
}

func TestAdmitAcceptsUnhandledActivityType(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", func(a map[string]any) {
		a["type"] = "Like"
	})

	require.NoError(t, env.svc.Admit(context.Background(), env.signedInboxRequest(t, body)))
	env.assertNoNote(t)
}

func TestAdmitAcceptsNonNoteObject(t *testing.T) {
	env := newInboxEnv(t, false)
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", func(a map[string]any) {
		a["object"].(map[string]any)["type"] = "Image"
	})

	require.NoError(t, env.svc.Admit(context.Background(), env.signedInboxRequest(t, body)))
	env.assertNoNote(t)
}

func TestAdmitRejectsObjectReference(t *testing.T) {
	env := newInboxEnv(t, false)
	// Create 活动的 object 必须内联
	body := env.createNoteActivity(t, "https://peer.example.com/act/1", func(a map[string]any) {
		a["object"] = "https://peer.example.com/note/1"
	})

	err := env.svc.Admit(context.Background(), env.signedInboxRequest(t, body))
	var admitErr *AdmitError
	require.ErrorAs(t, err, &admitErr)
}

func TestAdmitRejectsMissingID(t *testing.T) {
	env := newInboxEnv(t, false)
	req := &InboxRequest{
		Method: http.MethodPost, Path: "/inbox", Host: nodeDomain,
		Body: []byte(`{"type":"Create"}`), Header: http.Header{},
	}
	err := env.svc.Admit(context.Background(), req)
	var admitErr *AdmitError
	require.ErrorAs(t, err, &admitErr)
}
