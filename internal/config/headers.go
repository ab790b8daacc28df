// Package config 自定义HTTP头部文件的加载
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultHeaderFile 默认头部文件路径
	DefaultHeaderFile = "configs/headers.yaml"

	// MaxHeaderFileSize 头部文件大小上限 (64KB)
	MaxHeaderFileSize = 64 * 1024
)

//go:embed headers_template.yaml
var headerTemplate string

// HeaderFile 头部配置文件
// 文件不存在时按内置模板生成, 模板中的头部全部注释掉
type HeaderFile struct {
	path string
}

// NewHeaderFile 创建头部文件加载器, path为空时使用默认路径
func NewHeaderFile(path string) *HeaderFile {
	if path == "" {
		path = DefaultHeaderFile
	}
	return &HeaderFile{path: path}
}

// Path 文件路径
func (f *HeaderFile) Path() string {
	return f.path
}

// Template 内置模板内容
func Template() string {
	return headerTemplate
}

// Ensure 文件不存在时写入模板
func (f *HeaderFile) Ensure() error {
	if _, err := os.Stat(f.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("无法读取头部文件 [%s]: %w", f.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("无法创建目录 [%s]: %w", filepath.Dir(f.path), err)
	}
	if err := os.WriteFile(f.path, []byte(headerTemplate), 0644); err != nil {
		return fmt.Errorf("无法生成头部文件 [%s]: %w", f.path, err)
	}
	utils.Infof("已生成头部配置模板: %s", f.path)
	return nil
}

func (f *HeaderFile) checkSize() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("无法读取头部文件 [%s]: %w", f.path, err)
	}
	if info.Size() > MaxHeaderFileSize {
		return &models.ConfigError{
			FilePath: f.path,
			Cause:    fmt.Errorf("文件过大: %d 字节 (上限 %d 字节)", info.Size(), MaxHeaderFileSize),
		}
	}
	return nil
}

// Load 读取头部文件
// 文件被其他进程锁定时返回空配置, 爬取使用默认头部
func (f *HeaderFile) Load() (*models.HeaderConfig, error) {
	if err := f.Ensure(); err != nil {
		return nil, err
	}
	if err := f.checkSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("头部文件被锁定 [%s], 使用默认头部", f.path)
			return &models.HeaderConfig{Headers: map[string]string{}}, nil
		}
		return nil, &models.ConfigError{FilePath: f.path, Cause: err}
	}

	var cfg models.HeaderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &models.ConfigError{
			FilePath: f.path,
			Cause:    fmt.Errorf("解析headers失败: %w", err),
		}
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return &cfg, nil
}
