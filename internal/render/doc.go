// Package render 根据爬取清单生成PDF宣传册
//
// 渲染阶段只读取镜像目录下的 metadata.json, 不依赖爬取阶段的内存状态,
// 因此可以对已有镜像单独重跑。
//
// 静态站点: 按 html_files 顺序拼接各页面的body, 每页之间插入分页标记,
// 写入镜像根目录后由浏览器打印, 相对资源路径在镜像内解析。
//
// 动态站点: 启动一个浏览器实例, 只导航起始URL, 等待网络空闲后打印。
//
//	r := NewRenderer(NewRodEngine(RodEngineConfig{Headless: true}), cfg)
//	result, err := r.RenderDir(ctx, "website_content")
//	if errors.Is(err, models.ErrNoManifest) {
//	    // 没有可渲染的内容
//	}
package render
