package monitor

import (
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// HostSample is one reading of host resource usage. A false Has* flag means the value
// could not be read.
type HostSample struct {
	MemoryPercent float64
	CPUPercent    float64
	HasMemory     bool
	HasCPU        bool
}

// HostProbe reads host resource usage.
type HostProbe interface {
	Sample() HostSample
}

// ProcProbe reads /proc through procfs. CPU usage is the busy share between two
// consecutive samples, so the first sample reports no CPU value.
type ProcProbe struct {
	fs procfs.FS

	mu        sync.Mutex
	lastBusy  float64
	lastTotal float64
	primed    bool
}

// NewProcProbe opens the default /proc mount.
func NewProcProbe() (*ProcProbe, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcProbe{fs: fs}, nil
}

func (p *ProcProbe) Sample() HostSample {
	var out HostSample

	if mi, err := p.fs.Meminfo(); err == nil && mi.MemTotal != nil && mi.MemAvailable != nil && *mi.MemTotal > 0 {
		total := float64(*mi.MemTotal)
		out.MemoryPercent = (total - float64(*mi.MemAvailable)) / total * 100
		out.HasMemory = true
	}

	if st, err := p.fs.Stat(); err == nil {
		c := st.CPUTotal
		busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
		total := busy + c.Idle + c.Iowait

		p.mu.Lock()
		if p.primed && total > p.lastTotal {
			out.CPUPercent = (busy - p.lastBusy) / (total - p.lastTotal) * 100
			out.HasCPU = true
		}
		p.lastBusy, p.lastTotal, p.primed = busy, total, true
		p.mu.Unlock()
	}
	return out
}
