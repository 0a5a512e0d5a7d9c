package service

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/store"
)

// Status is the getStatus response: collection counters plus runtime health
type Status struct {
	Counts      store.Counts          `json:"counts"`
	Predictions store.PredictionStats `json:"predictions"`

	UptimeSeconds int64 `json:"uptime_seconds"`
	LLMWaiting    int   `json:"llm_waiting"`
	EmbedWaiting  int   `json:"embed_waiting"`
	LocksHeld     int   `json:"locks_held"`

	ProcessRSSBytes   uint64  `json:"process_rss_bytes,omitempty"`
	ProcessCPUPercent float64 `json:"process_cpu_percent,omitempty"`
	HostMemoryTotal   uint64  `json:"host_memory_total,omitempty"`
	HostMemoryUsedPct float64 `json:"host_memory_used_pct,omitempty"`
}

// GetStatus assembles counters and process stats. Host probes failing is
// never an error; those fields just stay zero.
func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	counts, err := s.Store.Stats()
	if err != nil {
		return nil, err
	}
	predictions, err := s.Store.PredictionAccuracy(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Counts:        counts,
		Predictions:   predictions,
		UptimeSeconds: int64(time.Since(s.StartedAt) / time.Second),
		LocksHeld:     s.Locks.Held(),
	}
	if s.LLMGate != nil {
		st.LLMWaiting = s.LLMGate.Waiting()
	}
	if s.EmbedGate != nil {
		st.EmbedWaiting = s.EmbedGate.Waiting()
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			st.ProcessRSSBytes = mi.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			st.ProcessCPUPercent = cpu
		}
	} else {
		logging.Debug("service", "process stats unavailable: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		st.HostMemoryTotal = vm.Total
		st.HostMemoryUsedPct = vm.UsedPercent
	}
	return st, nil
}
