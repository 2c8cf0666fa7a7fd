package worker

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/peg-hub/internal/cache"
)

// Request 是被拦截的一次请求，URL 必须为绝对地址（scope 所在 origin）。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	// NoStore 要求传输层绕过 HTTP 缓存（Cache-Control: no-store）。
	NoStore bool
}

// NewRequest 解析绝对 URL 并构建请求。
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: strings.ToUpper(method), URL: u, Header: http.Header{}}, nil
}

// Key 返回缓存条目键。
func (r *Request) Key() cache.Key {
	return cache.NewKey(r.Method, r.URL)
}

// Navigation 表示这是一次页面导航（Accept 含 text/html）。
func (r *Request) Navigation() bool {
	if r.Header == nil {
		return false
	}
	for _, value := range r.Header.Values("Accept") {
		if strings.Contains(value, "text/html") {
			return true
		}
	}
	return false
}

func (r *Request) clone() *Request {
	out := *r
	if r.URL != nil {
		u := *r.URL
		out.URL = &u
	}
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return &out
}
