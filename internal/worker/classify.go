package worker

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/any-hub/peg-hub/internal/variant"
)

// DefaultDataSuffix 是未配置时识别数据文档的路径后缀。
const DefaultDataSuffix = "data.json"

// Classifier 仅依据方法与 URL 形态对请求分类，不读取请求头。
type Classifier struct {
	scope        *url.URL
	dataSuffixes []string
	coreAssets   []*url.URL
	corePaths    map[string]struct{}
}

// NewClassifier 将核心资源相对 scope 解析为绝对地址。
func NewClassifier(scope *url.URL, coreAssets, dataSuffixes []string) *Classifier {
	c := &Classifier{
		scope:     scope,
		corePaths: make(map[string]struct{}, len(coreAssets)),
	}
	for _, suffix := range dataSuffixes {
		if suffix = strings.TrimSpace(suffix); suffix != "" {
			c.dataSuffixes = append(c.dataSuffixes, suffix)
		}
	}
	if len(c.dataSuffixes) == 0 {
		c.dataSuffixes = []string{DefaultDataSuffix}
	}
	seen := make(map[string]struct{}, len(coreAssets))
	for _, asset := range coreAssets {
		resolved, err := ResolveAsset(scope, asset)
		if err != nil {
			continue
		}
		if _, dup := seen[resolved.String()]; dup {
			continue
		}
		seen[resolved.String()] = struct{}{}
		c.coreAssets = append(c.coreAssets, resolved)
		c.corePaths[cleanPath(resolved.Path)] = struct{}{}
	}
	return c
}

// ResolveAsset 将 "./index.html"、"icons/a.png" 之类的条目解析为 scope 下的绝对 URL。
func ResolveAsset(scope *url.URL, asset string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(asset))
	if err != nil {
		return nil, err
	}
	if scope == nil {
		return ref, nil
	}
	return scope.ResolveReference(ref), nil
}

// CoreAssets 返回安装阶段需要预热的资源列表（已去重、保持配置顺序）。
func (c *Classifier) CoreAssets() []*url.URL {
	out := make([]*url.URL, len(c.coreAssets))
	for i, u := range c.coreAssets {
		clone := *u
		out[i] = &clone
	}
	return out
}

// Classify 是一个全函数，按固定顺序判定：
// 非 GET -> other；跨源或 scope 之外 -> other；数据后缀 -> data；核心资源 -> core-asset；其余 -> same-origin。
func (c *Classifier) Classify(req *Request) variant.Class {
	if req == nil || req.URL == nil {
		return variant.ClassOther
	}
	if req.Method != http.MethodGet {
		return variant.ClassOther
	}
	if !c.sameOrigin(req.URL) {
		return variant.ClassOther
	}
	p := req.URL.Path
	for _, suffix := range c.dataSuffixes {
		if strings.HasSuffix(p, suffix) {
			return variant.ClassData
		}
	}
	if _, ok := c.corePaths[cleanPath(p)]; ok {
		return variant.ClassCoreAsset
	}
	return variant.ClassSameOrigin
}

func (c *Classifier) sameOrigin(u *url.URL) bool {
	if c.scope == nil {
		return true
	}
	if !strings.EqualFold(u.Scheme, c.scope.Scheme) || !strings.EqualFold(u.Host, c.scope.Host) {
		return false
	}
	// scope 之外的同源路径不归本 worker 管。
	scopePath := c.scope.Path
	if scopePath == "" {
		scopePath = "/"
	}
	return strings.HasPrefix(cleanPath(u.Path), scopePath)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	trailing := strings.HasSuffix(p, "/")
	clean := path.Clean("/" + p)
	if trailing && clean != "/" {
		clean += "/"
	}
	return clean
}
