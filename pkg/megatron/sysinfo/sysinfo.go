// Package sysinfo collects host and process statistics for status replies.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time view of the host and the bot process.
type Snapshot struct {
	Hostname     string
	Platform     string
	HostUptime   time.Duration
	CPUs         int
	CPUPercent   float64
	MemTotal     uint64
	MemUsed      uint64
	MemPercent   float64
	DiskPath     string
	DiskPercent  float64
	ProcessRSS   uint64
	GoVersion    string
	Goroutines   int
	Uptime       time.Duration // since the bot started
	CollectedAt  time.Time
	PartialError error
}

// Collect gathers a snapshot. Individual probes that fail leave their
// fields zero and are reported in PartialError.
func Collect(ctx context.Context, startedAt time.Time, diskPath string) *Snapshot {
	s := &Snapshot{
		GoVersion:   runtime.Version(),
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now(),
		DiskPath:    diskPath,
	}
	if !startedAt.IsZero() {
		s.Uptime = time.Since(startedAt)
	}

	var errs []string
	if h, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = h.Hostname
		s.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
		s.HostUptime = time.Duration(h.Uptime) * time.Second
	} else {
		errs = append(errs, "host: "+err.Error())
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUs = n
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		s.CPUPercent = p[0]
	} else if err != nil {
		errs = append(errs, "cpu: "+err.Error())
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemTotal = v.Total
		s.MemUsed = v.Used
		s.MemPercent = v.UsedPercent
	} else {
		errs = append(errs, "mem: "+err.Error())
	}

	if diskPath != "" {
		if d, err := disk.UsageWithContext(ctx, diskPath); err == nil {
			s.DiskPercent = d.UsedPercent
		} else {
			errs = append(errs, "disk: "+err.Error())
		}
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}

	if len(errs) > 0 {
		s.PartialError = fmt.Errorf("sysinfo: %s", strings.Join(errs, "; "))
	}
	return s
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d as "1d 2h 3m 4s", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, sec)
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}

// Summary renders the snapshot as a short multi-line report.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Uptime:* %s\n", FormatDuration(s.Uptime))
	if s.Hostname != "" {
		fmt.Fprintf(&b, "*Host:* %s (%s)\n", s.Hostname, s.Platform)
	}
	fmt.Fprintf(&b, "*CPU:* %.1f%% of %d cores\n", s.CPUPercent, s.CPUs)
	if s.MemTotal > 0 {
		fmt.Fprintf(&b, "*RAM:* %s / %s (%.1f%%)\n", FormatBytes(s.MemUsed), FormatBytes(s.MemTotal), s.MemPercent)
	}
	if s.DiskPath != "" && s.DiskPercent > 0 {
		fmt.Fprintf(&b, "*Disk:* %.1f%% used\n", s.DiskPercent)
	}
	if s.ProcessRSS > 0 {
		fmt.Fprintf(&b, "*Process:* %s RSS, %d goroutines\n", FormatBytes(s.ProcessRSS), s.Goroutines)
	}
	fmt.Fprintf(&b, "*Runtime:* %s", s.GoVersion)
	return b.String()
}
