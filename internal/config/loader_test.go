package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[[App]]
Name = "peg"
Domain = "peg.local"
Upstream = "https://peg-origin.example.com"
Version = "v1"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsAppLevelPort(t *testing.T) {
	cfg := `
[[App]]
Name = "peg"
Domain = "peg.local"
Port = 8080
Upstream = "https://peg-origin.example.com"
Version = "v1"
`
	path := writeTempConfig(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("App 级端口应被拒绝")
	}
	if fe, ok := err.(FieldError); !ok || fe.Field != "App[peg].Port" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMissingManifestFails(t *testing.T) {
	cfg := `
[[App]]
Name = "peg"
Domain = "peg.local"
Upstream = "https://peg-origin.example.com"
AssetManifest = "absent.yaml"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("缺失的资源清单应报错")
	}
}

func TestWatchReloadsValidConfig(t *testing.T) {
	base := `
StoragePath = "./data"

[[App]]
Name = "peg"
Domain = "peg.local"
Upstream = "https://peg-origin.example.com"
Version = "%s"
`
	path := writeTempConfig(t, fmt.Sprintf(base, "v1"))
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	changes := make(chan *Config, 4)
	if err := Watch(path, logger, func(cfg *Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// 非法内容不会触发回调。
	if err := os.WriteFile(path, []byte("[[App]]\nName = \"peg\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(fmt.Sprintf(base, "v2")), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Apps[0].Version == "v2" {
				if !filepath.IsAbs(cfg.Global.StoragePath) {
					t.Fatalf("StoragePath 应转换为绝对路径")
				}
				return
			}
		case <-deadline:
			t.Fatalf("未收到 v2 配置")
		}
	}
}
