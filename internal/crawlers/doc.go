// Package crawlers 提供单域名网站镜像功能
//
// # 概述
//
// crawlers包负责 探测→爬取→改写 三步: 先判断站点是静态页面还是单页应用,
// 再用Colly并发抓取同域HTML页面和资源, 把资源引用改写为镜像内的相对路径。
//
// # 核心组件
//
// ## Classifier
//
// 对起始URL做一次GET, 没有 <a> 标签且存在 <script> 或 root/app 挂载点时判定为动态站点。
// 探测失败一律按静态站点处理。
//
//	isDynamic := NewClassifier(10*time.Second, "", false).Classify(ctx, "https://example.com/")
//
// ## Mirror
//
// 镜像爬取引擎。Fetch 调度页面, OnPageAccepted 处理同域HTML, OnAssetDiscovered 调度资源。
// 动态站点只抓取起始页面。
//
//	m, err := NewMirror(MirrorConfigFrom("website_content", cfg), startURL, isDynamic,
//	    WithJournal(journal), WithHeaderProvider(headerManager))
//	session, err := m.Run(ctx)
//	path, err := session.Manifest().Save()
//
// ## 路径映射
//
// 页面: 空路径或以 '/' 结尾追加 index.html, 其余去掉开头的 '/'。
// 资源: 保留原始路径, 不追加 index.html。
//
//	/         -> index.html
//	/a/b/     -> a/b/index.html
//	/a/b.html -> a/b.html
//
// ## ResourceGuard
//
// 爬取开始前按系统可用内存和CPU负载收紧并发上限。
//
// # 并发安全
//
// VisitedSet.TryMark 是原子的 检查+插入, 保证每个URL在会话内最多调度一次。
// 不同URL映射到不同的本地路径, 并发写入不会冲突; 映射到同一路径的第二个响应被丢弃。
package crawlers
