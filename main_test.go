package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/peg-hub/internal/config"
	"github.com/any-hub/peg-hub/internal/variant"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("PEG_HUB_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--reset"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
	if !opts.reset {
		t.Fatalf("--reset 应被识别")
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--bogus"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "Domain") {
		t.Fatalf("错误输出应包含字段名，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "peg-hub") {
		t.Fatalf("version 输出应包含 peg-hub 标识")
	}
}

func TestLoadConfigAppliesReset(t *testing.T) {
	cfg, err := loadConfig(cliOptions{configPath: configFixture(t, "valid.toml"), reset: true})
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	for _, app := range cfg.Apps {
		if app.Variant != variant.ResetVariantKey() {
			t.Fatalf("App %s 应切换到 reset，得到 %s", app.Name, app.Variant)
		}
	}
}

func TestHubCheckForUpdatesRedeploysChangedVersion(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, "origin "+req.URL.Path)
	})
	origin := httptest.NewServer(r)
	t.Cleanup(origin.Close)

	storage := filepath.Join(t.TempDir(), "storage")
	template := `
ListenPort = 5000
LogLevel = "info"
StoragePath = "%s"

[[App]]
Name = "peg"
Domain = "peg.local"
Upstream = "%s"
Version = "%s"
CoreAssets = ["./", "./index.html"]
`
	path := writeConfigFile(t, fmt.Sprintf(template, storage, origin.URL, "v1"))
	opts := cliOptions{configPath: path}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h, err := newHub(opts, cfg, logger)
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	t.Cleanup(h.Close)

	if err := h.deployer.DeployAll(context.Background(), h.registry.List()); err != nil {
		t.Fatalf("部署失败: %v", err)
	}
	if _, err := h.newApp(); err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}

	rewriteConfigFile(t, path, fmt.Sprintf(template, storage, origin.URL, "v2"))
	if err := h.checkForUpdates(context.Background()); err != nil {
		t.Fatalf("检查更新失败: %v", err)
	}

	route, ok := h.registry.Route("peg")
	if !ok {
		t.Fatalf("peg 路由应存在")
	}
	if active := route.Registration.Active(); active == nil || active.Version() != "v2" {
		t.Fatalf("应激活 v2")
	}
}

func TestHubApplyConfigKeepsResetFlag(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "storage")
	path := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
LogLevel = "info"
StoragePath = "%s"

[[App]]
Name = "peg"
Domain = "peg.local"
Upstream = "https://peg-origin.invalid"
Version = "v1"
`, storage))
	opts := cliOptions{configPath: path, reset: true}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h, err := newHub(opts, cfg, logger)
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	t.Cleanup(h.Close)

	next, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	h.applyConfig(next)

	route, _ := h.registry.Route("peg")
	if route.Profile.Variant != variant.ResetVariantKey() {
		t.Fatalf("重新加载后仍应保持 reset，得到 %s", route.Profile.Variant)
	}
}
