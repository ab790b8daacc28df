package crawlers

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/BrochureBot/internal/models"
)

// assetSelectors 扫描的 标签/属性 组合
var assetSelectors = []struct {
	tag  string
	attr string
}{
	{"img", "src"},
	{"link", "href"},
	{"script", "src"},
}

// AssetLocalizer 将页面中的同域资源引用改写为镜像内的相对路径
type AssetLocalizer struct {
	domain string
}

// NewAssetLocalizer 创建资源本地化器
func NewAssetLocalizer(domain string) *AssetLocalizer {
	return &AssetLocalizer{domain: strings.ToLower(domain)}
}

// Rewrite 改写页面HTML中的资源引用
// 返回改写后的HTML和需要抓取的资源列表; 跨域引用既不改写也不抓取
func (l *AssetLocalizer) Rewrite(pageURL *url.URL, pageLocal string, htmlText string) (string, []models.AssetRef) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return htmlText, nil
	}

	var refs []models.AssetRef
	handled := make(map[string]bool)

	for _, sel := range assetSelectors {
		doc.Find(sel.tag + "[" + sel.attr + "]").Each(func(_ int, s *goquery.Selection) {
			original, _ := s.Attr(sel.attr)
			if original == "" || handled[original] {
				return
			}

			ref, ok := l.resolve(pageURL, pageLocal, original)
			if !ok {
				return
			}
			ref.TagKind = sel.tag
			ref.AttributeName = sel.attr

			handled[original] = true
			refs = append(refs, ref)
		})
	}

	for _, ref := range refs {
		rel := RelativeRef(pageLocal, ref.LocalPath)
		htmlText = replaceQuoted(htmlText, ref.OriginalReference, rel)
	}

	return htmlText, refs
}

// resolve 解析单个引用; 非同域或无法映射到文件的引用返回false
func (l *AssetLocalizer) resolve(pageURL *url.URL, pageLocal, original string) (models.AssetRef, bool) {
	parsed, err := url.Parse(strings.TrimSpace(original))
	if err != nil {
		return models.AssetRef{}, false
	}

	abs := pageURL.ResolveReference(parsed)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return models.AssetRef{}, false
	}
	if !SameHost(abs, l.domain) {
		return models.AssetRef{}, false
	}
	abs.Fragment = ""
	abs.RawFragment = ""

	local, ok := AssetPath(abs)
	if !ok {
		return models.AssetRef{}, false
	}

	return models.AssetRef{
		OriginalReference: original,
		ResolvedURL:       abs.String(),
		LocalPath:         local,
	}, true
}

// replaceQuoted 只替换被引号包围的引用, 避免误改正文中的同名文本
// 同时处理属性值中 '&' 被转义为 "&amp;" 的写法
func replaceQuoted(htmlText, original, replacement string) string {
	variants := []string{original}
	if escaped := strings.ReplaceAll(original, "&", "&amp;"); escaped != original {
		variants = append(variants, escaped)
	}

	for _, v := range variants {
		htmlText = strings.ReplaceAll(htmlText, `"`+v+`"`, `"`+replacement+`"`)
		htmlText = strings.ReplaceAll(htmlText, `'`+v+`'`, `'`+replacement+`'`)
	}
	return htmlText
}
