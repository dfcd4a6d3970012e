// Package apub holds the ActivityStreams vocabulary constants and typed views
// over resolved document graphs.
package apub

import (
	"net/url"
	"strings"
)

const (
	// ASContext is the default JSON-LD context for the vocabulary.
	ASContext   = "https://www.w3.org/ns/activitystreams"
	asNamespace = ASContext + "#"

	// PublicCollection is the special "deliver to everyone" sentinel.
	PublicCollection = asNamespace + "Public"

	JSONMIME     = "application/json"
	JSONLDMIME   = "application/ld+json"
	ASMIME       = JSONLDMIME + `; profile="` + ASContext + `"`
	LegacyASMIME = "application/activity+json"
)

// JSONAccepts is the Accept header value sent when requesting documents.
var JSONAccepts = strings.Join([]string{ASMIME, LegacyASMIME, JSONLDMIME, JSONMIME}, ",")

// TypeIs 判断 type 值是否为给定的 AS 类型（兼容短名与完整 IRI 两种写法）
func TypeIs(typ, name string) bool {
	return typ == name || typ == asNamespace+name
}

// EnsureList 把缺失/单值/列表统一成列表
func EnsureList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{v}
	}
}

// OriginOf 提取 URL 的源（scheme+authority），非 URL 返回空串
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + u.Host
}
