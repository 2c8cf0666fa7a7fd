package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/peg-hub/internal/cache"
)

// DefaultMaxBodyBytes 限制单个响应快照的大小。
const DefaultMaxBodyBytes int64 = 64 << 20

// Fetcher 执行真正的网络请求。返回 error 仅表示传输失败；
// 非 2xx 响应以 Snapshot 形式返回，由调用方根据 OK() 判断。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error)
}

// FetcherFunc 让普通函数满足 Fetcher。
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Snapshot, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	return f(ctx, req)
}

// HTTPFetcher 将 scope 下的请求改写到上游 origin 并读取完整响应。
type HTTPFetcher struct {
	client   *http.Client
	scope    *url.URL
	upstream *url.URL
	maxBody  int64
}

// NewHTTPFetcher 构建基于共享 http.Client 的 Fetcher；scope/upstream 为空时不改写地址。
func NewHTTPFetcher(client *http.Client, scope, upstream *url.URL) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:   client,
		scope:    scope,
		upstream: upstream,
		maxBody:  DefaultMaxBodyBytes,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("fetch: request url required")
	}
	target := f.UpstreamURL(req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	// 交给 Transport 透明解压，缓存的始终是明文正文。
	httpReq.Header.Del("Accept-Encoding")
	if req.NoStore {
		httpReq.Header.Set("Cache-Control", "no-store")
		httpReq.Header.Set("Pragma", "no-cache")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", f.maxBody)
	}
	header := resp.Header.Clone()
	header.Del("Content-Length")
	return &cache.Snapshot{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// UpstreamURL 把 scope origin 下的地址映射到上游 origin，保留路径与查询串。
func (f *HTTPFetcher) UpstreamURL(u *url.URL) *url.URL {
	return MapUpstream(f.scope, f.upstream, u)
}

// MapUpstream 把 scope 路径前缀替换为 upstream 路径前缀；非 scope host 的地址原样返回。
func MapUpstream(scope, upstream, u *url.URL) *url.URL {
	out := *u
	if scope == nil || upstream == nil {
		return &out
	}
	if !strings.EqualFold(u.Host, scope.Host) {
		return &out
	}
	rel := strings.TrimPrefix(u.Path, strings.TrimSuffix(scope.Path, "/"))
	base := strings.TrimSuffix(upstream.Path, "/")
	out.Scheme = upstream.Scheme
	out.Host = upstream.Host
	out.User = nil
	out.Path = base + "/" + strings.TrimPrefix(rel, "/")
	out.RawPath = ""
	return &out
}
