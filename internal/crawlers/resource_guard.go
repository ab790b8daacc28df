package crawlers

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mb = 1024 * 1024

// ResourceGuardConfig 资源守卫配置(内存单位MB)
type ResourceGuardConfig struct {
	SafetyReserveMemory int // 安全保留内存
	WorkerMemory        int // 单个并发请求的估算内存
	MaxWorkersLimit     int // 绝对并发上限
	CPULoadThreshold    int // CPU负载阈值(%), >=200视为关闭检查
}

// MemoryStatus 内存状态
type MemoryStatus struct {
	TotalMemory     uint64
	AvailableMemory uint64
	Pressure        string // normal / warning / critical / emergency
}

// ResourceGuard 爬取开始前根据系统资源收紧并发上限
type ResourceGuard struct {
	config ResourceGuardConfig

	// 测试时替换
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	cpuPercent    func(time.Duration, bool) ([]float64, error)
}

// NewResourceGuard 创建资源守卫
func NewResourceGuard(config ResourceGuardConfig) *ResourceGuard {
	if config.WorkerMemory <= 0 {
		config.WorkerMemory = 50
	}
	if config.MaxWorkersLimit <= 0 {
		config.MaxWorkersLimit = 100
	}
	if config.CPULoadThreshold <= 0 {
		config.CPULoadThreshold = 80
	}

	return &ResourceGuard{
		config:        config,
		virtualMemory: mem.VirtualMemory,
		cpuPercent:    cpu.Percent,
	}
}

// Ceiling 计算实际并发数: min(请求值, 内存允许值, 绝对上限), 至少为1
// CPU负载过高时再减半
func (g *ResourceGuard) Ceiling(requested int) int {
	result := requested
	if result < 1 {
		result = 1
	}

	if byMemory := g.maxByMemory(); byMemory < result {
		log.Warn().Msgf("可用内存有限, 并发数从 %d 调整为 %d", result, byMemory)
		result = byMemory
	}

	if g.config.MaxWorkersLimit < result {
		result = g.config.MaxWorkersLimit
	}

	if ok, reason := g.checkCPU(); !ok {
		log.Warn().Msgf("%s, 并发数减半", reason)
		result /= 2
	}

	if result < 1 {
		result = 1
	}
	return result
}

// maxByMemory 基于系统可用内存的并发上限
func (g *ResourceGuard) maxByMemory() int {
	vm, err := g.virtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败, 不按内存限制并发")
		return g.config.MaxWorkersLimit
	}

	reserve := uint64(g.config.SafetyReserveMemory) * mb
	if vm.Available <= reserve {
		return 1
	}

	n := int((vm.Available - reserve) / (uint64(g.config.WorkerMemory) * mb))
	if n < 1 {
		n = 1
	}
	return n
}

// checkCPU 检查CPU负载
func (g *ResourceGuard) checkCPU() (bool, string) {
	if g.config.CPULoadThreshold >= 200 {
		return true, ""
	}

	percentages, err := g.cpuPercent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		return true, ""
	}

	if percentages[0] > float64(g.config.CPULoadThreshold) {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", percentages[0])
	}
	return true, ""
}

// Status 当前内存状态, 供doctor子命令展示
func (g *ResourceGuard) Status() MemoryStatus {
	vm, err := g.virtualMemory()
	if err != nil {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return MemoryStatus{TotalMemory: ms.Sys, Pressure: "unknown"}
	}

	availableMB := vm.Available / mb
	var pressure string
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemoryStatus{
		TotalMemory:     vm.Total,
		AvailableMemory: vm.Available,
		Pressure:        pressure,
	}
}
