package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/BrochureBot/internal/config"
	"github.com/RecoveryAshes/BrochureBot/internal/crawlers"
	"github.com/RecoveryAshes/BrochureBot/internal/models"
	"github.com/RecoveryAshes/BrochureBot/internal/utils"
)

// HeaderManager 合并 默认 < 头部文件 < 命令行 三层HTTP头部
// 实现 models.HeaderProvider; 头部文件只在第一次请求时加载, 之后并发读取同一份结果
type HeaderManager struct {
	defaults http.Header
	file     http.Header
	cli      http.Header

	headerFile *config.HeaderFile
	validator  *utils.HeaderValidator
	redactor   *utils.HeaderRedactor

	once    sync.Once
	merged  http.Header
	loadErr error
}

// NewHeaderManager 创建头部管理器
// headerFile为空时使用 configs/headers.yaml; userAgent为空时使用默认爬虫标识
func NewHeaderManager(headerFile, userAgent string, cliHeaders []string) (*HeaderManager, error) {
	cli := make(http.Header)
	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		cli = parsed
	}

	return &HeaderManager{
		defaults:   defaultHeaders(userAgent),
		cli:        cli,
		headerFile: config.NewHeaderFile(headerFile),
		validator:  utils.NewHeaderValidator(),
		redactor:   utils.NewHeaderRedactor(),
	}, nil
}

func defaultHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = crawlers.DefaultUserAgent
	}
	return http.Header{
		"User-Agent":      []string{userAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// load 读取头部文件并校验三层头部
func (hm *HeaderManager) load() {
	cfg, err := hm.headerFile.Load()
	if err != nil {
		utils.Errorf("加载HTTP头部配置失败: %v", err)
		hm.loadErr = err
		return
	}

	hm.file = make(http.Header)
	for name, value := range cfg.Headers {
		hm.file.Set(name, value)
	}

	layers := []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"头部文件", hm.file},
		{"命令行", hm.cli},
	}
	for _, layer := range layers {
		if err := hm.validator.Validate(layer.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.name, err)
			hm.loadErr = err
			return
		}
	}

	hm.merged = hm.GetMergedHeaders()
	utils.Debugf("生效的HTTP头部: %s", hm.redactor.RedactToString(hm.merged))
}

// GetMergedHeaders 按优先级合并头部
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.file, hm.cli} {
		for name, values := range layer {
			result[name] = values
		}
	}
	return result
}

// GetSafeHeaders 脱敏后的合并头部, 用于日志和 --validate-config 输出
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 models.HeaderProvider
// 返回结果的副本, 调用方可以修改
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	hm.once.Do(hm.load)
	if hm.loadErr != nil {
		return nil, hm.loadErr
	}
	return hm.merged.Clone(), nil
}
