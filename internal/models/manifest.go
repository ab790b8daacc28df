package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ManifestFileName 爬取阶段与渲染阶段之间唯一的交接文件
	ManifestFileName = "metadata.json"

	// BrochureFileName 输出PDF文件名
	BrochureFileName = "website_brochure.pdf"
)

// ErrNoManifest 镜像目录下没有metadata.json,表示没有可渲染的内容
var ErrNoManifest = errors.New("未找到metadata.json")

// Manifest 爬取结果清单
// 写入一次(爬取结束后),渲染阶段读取一次
type Manifest struct {
	StartURL  string   `json:"start_url"`
	BaseDir   string   `json:"base_dir"`
	IsDynamic bool     `json:"is_dynamic"`
	HTMLFiles []string `json:"html_files"` // 相对BaseDir,按保存完成顺序
}

// ManifestPath 返回镜像目录下清单文件路径
func ManifestPath(baseDir string) string {
	return filepath.Join(baseDir, ManifestFileName)
}

// PDFPath 返回输出PDF路径
func (m *Manifest) PDFPath() string {
	return filepath.Join(m.BaseDir, BrochureFileName)
}

// PageFile 将html_files中的相对路径转换为本地文件路径
func (m *Manifest) PageFile(rel string) string {
	return filepath.Join(m.BaseDir, filepath.FromSlash(rel))
}

// Save 原子写入清单: 先写临时文件再rename,崩溃时不会留下半个文件
func (m *Manifest) Save() (string, error) {
	if m.HTMLFiles == nil {
		m.HTMLFiles = []string{}
	}

	if err := os.MkdirAll(m.BaseDir, 0755); err != nil {
		return "", fmt.Errorf("创建镜像目录失败: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化清单失败: %w", err)
	}

	tmp, err := os.CreateTemp(m.BaseDir, ".metadata-*.json")
	if err != nil {
		return "", fmt.Errorf("创建临时清单失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("写入临时清单失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("关闭临时清单失败: %w", err)
	}

	path := ManifestPath(m.BaseDir)
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("保存清单失败: %w", err)
	}

	return path, nil
}

// LoadManifest 从镜像目录加载清单
// 文件不存在时返回 ErrNoManifest; BaseDir 以实际加载位置为准,镜像目录可整体移动
func LoadManifest(baseDir string) (*Manifest, error) {
	path := ManifestPath(baseDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析清单失败 [%s]: %w", path, err)
	}

	if m.StartURL == "" {
		return nil, fmt.Errorf("清单缺少start_url: %s", path)
	}

	m.BaseDir = baseDir
	if m.HTMLFiles == nil {
		m.HTMLFiles = []string{}
	}

	return &m, nil
}
