// Package procfs reads process memory usage and the memory ceiling it runs under.
package procfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// Config controls where the ceiling comes from.
type Config struct {
	// LimitBytes overrides the detected ceiling when > 0.
	LimitBytes uint64
	// CgroupRoot is the cgroup v2 mount, normally /sys/fs/cgroup.
	CgroupRoot string
	// ProcRoot is the procfs mount, normally /proc.
	ProcRoot string
}

// Sampler implements shot.MemorySampler.
//
// Usage prefers the cgroup's memory.current (it covers child processes such as the browser and
// the encoder) and falls back to this process's RSS. The ceiling is LimitBytes, then the cgroup
// memory.max, then MemTotal.
type Sampler struct {
	cfg Config
	fs  procfs.FS
	now func() time.Time
}

// New opens procfs.
func New(cfg Config) (*Sampler, error) {
	if cfg.CgroupRoot == "" {
		cfg.CgroupRoot = "/sys/fs/cgroup"
	}
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(cfg.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &Sampler{cfg: cfg, fs: fs, now: time.Now}, nil
}

// Sample takes one observation.
func (s *Sampler) Sample() (shot.MemoryReading, error) {
	used, err := s.used()
	if err != nil {
		return shot.MemoryReading{}, err
	}
	limit, err := s.limit()
	if err != nil {
		return shot.MemoryReading{}, err
	}
	return shot.MemoryReading{UsedBytes: used, LimitBytes: limit, At: s.now()}, nil
}

func (s *Sampler) used() (uint64, error) {
	if v, ok := readCgroupValue(filepath.Join(s.cfg.CgroupRoot, "memory.current")); ok {
		return v, nil
	}
	self, err := s.fs.Self()
	if err != nil {
		return 0, fmt.Errorf("open self proc: %w", err)
	}
	stat, err := self.Stat()
	if err != nil {
		return 0, fmt.Errorf("read self stat: %w", err)
	}
	return uint64(stat.ResidentMemory()), nil
}

func (s *Sampler) limit() (uint64, error) {
	if s.cfg.LimitBytes > 0 {
		return s.cfg.LimitBytes, nil
	}
	if v, ok := readCgroupValue(filepath.Join(s.cfg.CgroupRoot, "memory.max")); ok {
		return v, nil
	}
	info, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if info.MemTotal == nil {
		return 0, errors.New("meminfo has no MemTotal")
	}
	return *info.MemTotal * 1024, nil
}

// readCgroupValue parses a single-number cgroup file. "max" and missing files report !ok.
func readCgroupValue(path string) (uint64, bool) {
	raw, err := os.ReadFile(path) // #nosec G304 -- fixed cgroup paths.
	if err != nil {
		return 0, false
	}
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "max" {
		return 0, false
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}
