package app

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
		go a.SchedSlotMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 1m", a.SchedStatusSnapshotTask)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@every 1m", a.SchedMetricsFlushTask)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	_cpuuse, err := cpu.Percent(0, false)
	if err == nil && len(_cpuuse) > 0 {
		metrics.SetGauge("system_cpuuse", int64(_cpuuse[0]*100)) // percentage * 100
	}

	_meminfo, err := mem.VirtualMemory()
	if err == nil {
		metrics.SetGauge("system_memuse", int64(_meminfo.Used/1024/1024)) //nolint:gosec // G115: memory MB value fits in int64
	}
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return
	}

	cpuuse, err := p.CPUPercent()
	if err == nil {
		metrics.SetGauge("wagate_cpuuse", int64(cpuuse*100)) // percentage * 100
	}

	meminfo, err := p.MemoryInfo()
	if err == nil {
		metrics.SetGauge("wagate_memuse", int64(meminfo.RSS/1024/1024)) //nolint:gosec // G115: memory MB value fits in int64
	}
}

// SchedSlotMonitorTask publishes per-status slot counts.
func (a *Application) SchedSlotMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	if a.supervisor == nil {
		return
	}
	slots := a.supervisor.List()
	counts := map[string]int64{}
	for _, st := range slots {
		counts[string(st.Status)]++
	}
	metrics.SetGauge("whatsapp_slots", int64(len(slots)))
	metrics.SetGauge("whatsapp_pool_running", int64(a.supervisor.Running()))
	for _, status := range []string{"connected", "connecting", "awaiting_scan", "disconnected", "error"} {
		metrics.SetGauge("whatsapp_slots_"+status, counts[status])
	}
	if a.bus != nil {
		metrics.SetGauge("whatsapp_event_subscribers", int64(a.bus.Subscribers()))
	}
}

// SchedStatusSnapshotTask persists the live status of every slot.
func (a *Application) SchedStatusSnapshotTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	if a.supervisor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.supervisor.SnapshotStatuses(ctx); err != nil {
		zap.L().Warn("whatsapp: status snapshot failed", zap.Error(err))
	}
}

// SchedMetricsFlushTask writes the current counters to the time series store.
func (a *Application) SchedMetricsFlushTask() {
	if err := metrics.Flush(time.Now()); err != nil {
		zap.L().Warn("metrics flush failed", zap.Error(err))
	}
}
