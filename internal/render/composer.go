package render

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/BrochureBot/internal/utils"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// pageBreak 每个页面之后的分页标记
const pageBreak = "<p style='page-break-after:always;'></p>"

// rebaseAttrs 需要按镜像根目录重新定位的属性
var rebaseAttrs = map[string]bool{"src": true, "href": true}

// Composition 拼接结果
type Composition struct {
	HTML     string
	Included []string // 实际拼入的页面
	Skipped  []string // 缺失或无法解析的页面
}

// Composer 把镜像中的多个页面拼接为一个可打印的文档
type Composer struct {
	baseDir string
	policy  *bluemonday.Policy
}

// NewComposer 创建拼接器; sanitize为true时清洗每个页面的body
func NewComposer(baseDir string, sanitize bool) *Composer {
	c := &Composer{baseDir: baseDir}
	if sanitize {
		p := bluemonday.UGCPolicy()
		p.AllowStyling()
		c.policy = p
	}
	return c
}

// Compose 按顺序拼接页面body, 每页包裹为 <div class='page'> 并追加分页标记
// 页面头部的样式表和 <style> 提升到文档头部; 相对路径改写为相对镜像根目录
// 缺失的页面记录警告后跳过
func (c *Composer) Compose(htmlFiles []string) (*Composition, error) {
	var head, body strings.Builder
	seenHead := make(map[string]bool)
	result := &Composition{}

	for _, rel := range htmlFiles {
		full := filepath.Join(c.baseDir, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			utils.Warnf("跳过缺失的页面 %s: %v", rel, err)
			result.Skipped = append(result.Skipped, rel)
			continue
		}

		pageHead, pageBody, err := c.extract(rel, data)
		if err != nil {
			utils.Warnf("跳过无法解析的页面 %s: %v", rel, err)
			result.Skipped = append(result.Skipped, rel)
			continue
		}

		for _, h := range pageHead {
			if !seenHead[h] {
				seenHead[h] = true
				head.WriteString(h)
			}
		}

		if c.policy != nil {
			pageBody = c.policy.Sanitize(pageBody)
		}

		body.WriteString("<div class='page'>")
		body.WriteString(pageBody)
		body.WriteString("</div>")
		body.WriteString(pageBreak)
		result.Included = append(result.Included, rel)
	}

	if len(result.Included) == 0 {
		return result, fmt.Errorf("没有可拼接的页面")
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html><html><head><meta charset='utf-8'>")
	doc.WriteString(head.String())
	doc.WriteString("</head><body>")
	doc.WriteString(body.String())
	doc.WriteString("</body></html>")
	result.HTML = doc.String()
	return result, nil
}

// extract 解析一个页面, 返回需要提升的头部元素和body内容
func (c *Composer) extract(rel string, data []byte) ([]string, string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("解析HTML失败: %w", err)
	}

	rebaseTree(root, rel)

	var headNode, bodyNode *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				if headNode == nil {
					headNode = n
				}
			case atom.Body:
				if bodyNode == nil {
					bodyNode = n
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			find(ch)
		}
	}
	find(root)

	var hoisted []string
	if headNode != nil {
		for ch := headNode.FirstChild; ch != nil; ch = ch.NextSibling {
			if !isStyleNode(ch) {
				continue
			}
			var buf bytes.Buffer
			if err := html.Render(&buf, ch); err == nil {
				hoisted = append(hoisted, buf.String())
			}
		}
	}

	var buf bytes.Buffer
	if bodyNode != nil {
		for ch := bodyNode.FirstChild; ch != nil; ch = ch.NextSibling {
			if err := html.Render(&buf, ch); err != nil {
				return nil, "", fmt.Errorf("输出HTML失败: %w", err)
			}
		}
	}

	return hoisted, buf.String(), nil
}

// isStyleNode <style> 或 <link rel=stylesheet>
func isStyleNode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Style:
		return true
	case atom.Link:
		for _, a := range n.Attr {
			if strings.EqualFold(a.Key, "rel") && strings.Contains(strings.ToLower(a.Val), "stylesheet") {
				return true
			}
		}
	}
	return false
}

// rebaseTree 把页面内的相对引用改写为相对镜像根目录的路径
func rebaseTree(n *html.Node, pageRel string) {
	if n.Type == html.ElementNode {
		for i, a := range n.Attr {
			if rebaseAttrs[strings.ToLower(a.Key)] {
				n.Attr[i].Val = Rebase(pageRel, a.Val)
			}
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		rebaseTree(ch, pageRel)
	}
}

// Rebase 把页面 pageRel 中的引用 ref 转换为相对镜像根目录的路径
// 绝对URL、协议相对URL、页内锚点和data/mailto/javascript等引用保持不变
//
//	about/index.html + ../img/a.png -> img/a.png
//	about/index.html + /css/x.css   -> css/x.css
func Rebase(pageRel, ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
		return ref
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return ref
	}

	var joined string
	if strings.HasPrefix(u.Path, "/") {
		joined = strings.TrimPrefix(path.Clean(u.Path), "/")
	} else {
		joined = path.Join(path.Dir(pageRel), u.Path)
	}
	for strings.HasPrefix(joined, "../") {
		joined = strings.TrimPrefix(joined, "../")
	}
	switch {
	case joined == "" || joined == "." || joined == "..":
		joined = "./"
	case strings.HasSuffix(u.Path, "/") && !strings.HasSuffix(joined, "/"):
		joined += "/"
	}

	u.Path = joined
	u.RawPath = ""
	return u.String()
}
