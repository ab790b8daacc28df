package utils

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

// MaxHeaderValueLength 单个头部值的长度上限 (8KB)
const MaxHeaderValueLength = 8192

// ForbiddenHeaders 由HTTP客户端维护, 不允许用户覆盖
var ForbiddenHeaders = []string{
	"Host",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
	"Upgrade",
}

// HeaderValidator 按RFC 7230校验用户提供的头部
type HeaderValidator struct {
	maxValueLength int
	forbidden      map[string]bool
}

// NewHeaderValidator 创建校验器
func NewHeaderValidator() *HeaderValidator {
	forbidden := make(map[string]bool, len(ForbiddenHeaders))
	for _, h := range ForbiddenHeaders {
		forbidden[http.CanonicalHeaderKey(h)] = true
	}
	return &HeaderValidator{
		maxValueLength: MaxHeaderValueLength,
		forbidden:      forbidden,
	}
}

// isTokenChar RFC 7230 tchar
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

// ValidateName 校验头部名称
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{Field: "name", Reason: "头部名称不能为空"}
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return &models.ValidationError{
				Field:      "name",
				HeaderName: name,
				Reason:     fmt.Sprintf("头部名称包含非法字符 %q", name[i]),
				Suggestion: "只使用字母、数字和连字符, 如 'Accept-Language'",
			}
		}
	}
	return nil
}

// ValidateValue 校验头部值: 不允许控制字符(制表符除外), 长度受限
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (上限 %d)", len(value), hv.maxValueLength),
		}
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return &models.ValidationError{
				Field:      "value",
				HeaderName: name,
				Reason:     "头部值包含控制字符",
				Suggestion: "去掉换行符等不可见字符",
			}
		}
	}
	return nil
}

// IsForbidden 是否为不允许覆盖的头部, 不区分大小写
func (hv *HeaderValidator) IsForbidden(name string) bool {
	return hv.forbidden[http.CanonicalHeaderKey(name)]
}

// ValidateHeader 校验一个头部
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if hv.IsForbidden(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "该头部由HTTP客户端维护",
			Suggestion: fmt.Sprintf("删除 '%s'", name),
		}
	}
	if err := hv.ValidateName(name); err != nil {
		return err
	}
	return hv.ValidateValue(name, value)
}

// Validate 按名称顺序校验全部头部, 返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
