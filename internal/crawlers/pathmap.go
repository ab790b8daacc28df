package crawlers

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// IndexFile 目录型路径对应的页面文件名
const IndexFile = "index.html"

// PagePath 页面URL到镜像相对路径的映射
// 空路径或以 '/' 结尾的路径追加 index.html, 其余路径去掉开头的 '/' 原样使用
//
//	/        -> index.html
//	/a/b/    -> a/b/index.html
//	/a/b.html -> a/b.html
func PagePath(u *url.URL) string {
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += IndexFile
	}
	return strings.TrimPrefix(p, "/")
}

// AssetPath 资源URL到镜像相对路径的映射
// 资源保留原始路径,不追加 index.html; 路径为空或为目录时无法落盘,返回false
func AssetPath(u *url.URL) (string, bool) {
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return "", false
	}
	return strings.TrimPrefix(u.Path, "/"), true
}

// RelativeRef 从页面所在目录指向资源的相对引用(使用 '/')
func RelativeRef(pageLocal, assetLocal string) string {
	rel, err := filepath.Rel(filepath.Dir(filepath.FromSlash(pageLocal)), filepath.FromSlash(assetLocal))
	if err != nil {
		return assetLocal
	}
	return filepath.ToSlash(rel)
}

// ResolveUnder 将镜像相对路径转换为base下的文件路径
// 路径先按根目录清理, ".." 不会越出镜像根目录
func ResolveUnder(base, rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("无效的本地路径: %q", rel)
	}

	full := filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	r, err := filepath.Rel(base, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("本地路径越出镜像目录: %q", rel)
	}
	return full, nil
}
