package apub

import (
	"github.com/d60-Lab/fedrelay/internal/jsonld"
)

// Actor 联邦身份：inbox 端点 + 公钥
type Actor struct {
	ID                string
	Type              string
	PreferredUsername string
	Inbox             string
	// Endpoints 为 endpoints 文档的引用；SharedInbox 在 endpoints 内联时直接给出
	Endpoints   string
	SharedInbox string
}

// Activity 包装活动（如 Create）
type Activity struct {
	ID     string
	Type   string
	Actor  string
	Object string
}

// Object 活动所作用的对象（Note 等）
type Object struct {
	ID           string
	Type         string
	AttributedTo string
	InReplyTo    string
	Content      string
	Tags         []Tag
}

// Tag 对象上的标签（Mention 等）
type Tag struct {
	Type string
	Href string
}

// PublicKey 签名公钥文档
type PublicKey struct {
	ID           string
	Owner        string
	PublicKeyPEM string
}

// Endpoints 服务器级端点文档
type Endpoints struct {
	ID          string
	SharedInbox string
}

// ActorOf 从图中取 Actor 视图
func ActorOf(g *jsonld.Graph, id string) Actor {
	node := g.Node(id)
	a := Actor{
		ID:                id,
		Type:              nodeRef(node["type"]),
		PreferredUsername: text(node["preferredUsername"]),
		Inbox:             nodeRef(node["inbox"]),
	}
	switch ep := node["endpoints"].(type) {
	case string:
		a.Endpoints = ep
	case map[string]any:
		if epID, _ := ep["id"].(string); epID != "" {
			a.Endpoints = epID
		}
		a.SharedInbox = nodeRef(ep["sharedInbox"])
	}
	return a
}

// EndpointsOf 从图中取 Endpoints 视图
func EndpointsOf(g *jsonld.Graph, id string) Endpoints {
	node := g.Node(id)
	return Endpoints{ID: id, SharedInbox: nodeRef(node["sharedInbox"])}
}

// ActivityOf 从图中取 Activity 视图
func ActivityOf(g *jsonld.Graph, id string) Activity {
	node := g.Node(id)
	return Activity{
		ID:     id,
		Type:   nodeRef(node["type"]),
		Actor:  nodeRef(node["actor"]),
		Object: nodeRef(node["object"]),
	}
}

// ObjectOf 从图中取 Object 视图，tag 按协议约定内联在文档里
func ObjectOf(g *jsonld.Graph, id string) Object {
	node := g.Node(id)
	o := Object{
		ID:           id,
		Type:         nodeRef(node["type"]),
		AttributedTo: nodeRef(node["attributedTo"]),
		InReplyTo:    nodeRef(node["inReplyTo"]),
		Content:      text(node["content"]),
	}
	for _, raw := range EnsureList(node["tag"]) {
		switch t := raw.(type) {
		case map[string]any:
			o.Tags = append(o.Tags, Tag{Type: nodeRef(t["type"]), Href: nodeRef(t["href"])})
		case string:
			if tagNode := g.Node(t); tagNode != nil {
				o.Tags = append(o.Tags, Tag{Type: nodeRef(tagNode["type"]), Href: nodeRef(tagNode["href"])})
			}
		}
	}
	return o
}

// PublicKeyOf 从图中取 PublicKey 视图
func PublicKeyOf(g *jsonld.Graph, id string) PublicKey {
	node := g.Node(id)
	return PublicKey{
		ID:           id,
		Owner:        nodeRef(node["owner"]),
		PublicKeyPEM: text(node["publicKeyPem"]),
	}
}

// nodeRef 取字段的节点引用：字符串本身，或内联对象的 id，
// 多值时取第一个。
func nodeRef(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		id, _ := t["id"].(string)
		return id
	case []any:
		if len(t) > 0 {
			return nodeRef(t[0])
		}
	}
	return ""
}

// text 取字面量文本字段，多语言 map 时优先取英文
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["en"].(string); ok {
			return s
		}
		if s, ok := t["@value"].(string); ok {
			return s
		}
	case []any:
		if len(t) > 0 {
			return text(t[0])
		}
	}
	return ""
}
