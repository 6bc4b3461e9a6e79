package transcode

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStatus is a point-in-time view of a supervised process.
type ProcessStatus struct {
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Running    bool      `json:"running"`
	ExitError  string    `json:"exit_error,omitempty"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	StartedAt  time.Time `json:"started_at"`
	Uptime     string    `json:"uptime"`
}

// Status samples the process. Resource usage is only reported while the
// process is running and stays zero when the OS refuses to report it.
func (p *Process) Status() ProcessStatus {
	st := ProcessStatus{
		Name:      p.Name,
		PID:       p.PID,
		Running:   p.Running(),
		StartedAt: p.StartedAt,
		Uptime:    time.Since(p.StartedAt).Truncate(time.Second).String(),
	}
	if err := p.Err(); err != nil {
		st.ExitError = err.Error()
	}
	if !st.Running {
		return st
	}

	proc, err := process.NewProcess(int32(p.PID))
	if err != nil {
		return st
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	return st
}
