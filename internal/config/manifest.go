package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是构建流程输出的资源清单（YAML），列出需要预热的核心资源。
//
//	version: "2024-06-01"
//	assets:
//	  - ./
//	  - ./index.html
type Manifest struct {
	Version string   `yaml:"version"`
	Assets  []string `yaml:"assets"`
}

// LoadManifest 读取并解析资源清单，空白条目会被忽略。
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资源清单失败: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("解析资源清单失败: %w", err)
	}
	manifest.Version = strings.TrimSpace(manifest.Version)
	assets := manifest.Assets[:0]
	for _, asset := range manifest.Assets {
		if trimmed := strings.TrimSpace(asset); trimmed != "" {
			assets = append(assets, trimmed)
		}
	}
	manifest.Assets = assets
	return &manifest, nil
}
