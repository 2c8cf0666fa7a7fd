package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// Key 唯一定位一个缓存条目：归一化后的请求方法 + URL。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey 归一化请求身份：方法大写、scheme/host 小写、去掉 fragment、清理路径，
// query 原样保留（cache-busting 参数会得到独立条目）。
func NewKey(method string, u *url.URL) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	if u == nil {
		return Key{Method: method}
	}
	normalized := *u
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.User = nil
	clean := normalized.Path
	if clean == "" {
		clean = "/"
	}
	trailing := strings.HasSuffix(clean, "/") && clean != "/"
	clean = path.Clean("/" + clean)
	if trailing {
		clean += "/"
	}
	normalized.Path = clean
	normalized.RawPath = ""
	return Key{Method: method, URL: normalized.String()}
}

// String 输出 "GET https://host/path?q" 形式，便于日志与调试。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Digest 返回 String() 的 SHA-1 十六进制摘要，作为后端存储键。
func (k Key) Digest() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// validGeneration 拒绝会逃逸目录或破坏键空间的代名称。
func validGeneration(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidGeneration
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return ErrInvalidGeneration
	}
	return nil
}
