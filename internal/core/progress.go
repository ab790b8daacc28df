package core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

const (
	// spinnerInterval 转圈刷新间隔
	spinnerInterval = 200 * time.Millisecond

	// CompletedMessage 结束时输出一次
	CompletedMessage = "Process completed!"
)

// ProgressReporter 在独立goroutine中显示当前阶段和转圈动画
// 状态通过原子指针发布, 完成信号只关闭一次
type ProgressReporter struct {
	w        io.Writer
	status   atomic.Pointer[string]
	done     chan struct{}
	once     sync.Once
	interval time.Duration
}

// NewProgressReporter 创建进度显示器
func NewProgressReporter(w io.Writer, initial string) *ProgressReporter {
	p := &ProgressReporter{
		w:        w,
		done:     make(chan struct{}),
		interval: spinnerInterval,
	}
	p.SetStatus(initial)
	return p
}

// SetStatus 更新当前阶段, 可在任意goroutine调用
func (p *ProgressReporter) SetStatus(s string) {
	p.status.Store(&s)
}

// Status 当前阶段
func (p *ProgressReporter) Status() string {
	if s := p.status.Load(); s != nil {
		return *s
	}
	return ""
}

// Done 通知结束, 多次调用只生效一次
func (p *ProgressReporter) Done() {
	p.once.Do(func() { close(p.done) })
}

// Start 刷新转圈直到Done或ctx取消, 阻塞调用
func (p *ProgressReporter) Start(ctx context.Context) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription(p.Status()+"..."),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			_ = bar.Finish()
			fmt.Fprintf(p.w, "\n%s\n", CompletedMessage)
			return nil
		case <-ctx.Done():
			_ = bar.Clear()
			fmt.Fprintln(p.w)
			return nil
		case <-ticker.C:
			bar.Describe(p.Status() + "...")
			_ = bar.Add(1)
		}
	}
}
