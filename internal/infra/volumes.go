package infra

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// removableMountPrefixes are mount locations used for external media.
var removableMountPrefixes = []string{
	"/media/",
	"/mnt/",
	"/run/media/",
	"/Volumes/",
	"/storage/",
}

// pseudoFilesystems never hold user files worth scanning.
var pseudoFilesystems = map[string]bool{
	"proc": true, "sysfs": true, "tmpfs": true, "devtmpfs": true, "devfs": true,
	"cgroup": true, "cgroup2": true, "overlay": true, "squashfs": true, "autofs": true,
}

// VolumeLister discovers mounted external volumes to add as full-scan roots.
type VolumeLister struct {
	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	logger     *zap.Logger
}

// NewVolumeLister creates a lister backed by gopsutil.
func NewVolumeLister(logger *zap.Logger) *VolumeLister {
	return &VolumeLister{partitions: disk.PartitionsWithContext, logger: logger}
}

// NewVolumeListerWithSource creates a lister with a custom partition source (for testing).
func NewVolumeListerWithSource(src func(ctx context.Context, all bool) ([]disk.PartitionStat, error), logger *zap.Logger) *VolumeLister {
	return &VolumeLister{partitions: src, logger: logger}
}

// RemovableMounts returns mount points of external media, sorted.
// Discovery failure is logged and yields no extra roots.
func (v *VolumeLister) RemovableMounts(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	parts, err := v.partitions(ctx, false)
	if err != nil {
		v.logger.Warn("volume discovery failed", zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	var mounts []string
	for _, p := range parts {
		if pseudoFilesystems[strings.ToLower(p.Fstype)] {
			continue
		}
		if !hasMountPrefix(p.Mountpoint) || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true
		mounts = append(mounts, p.Mountpoint)
	}
	sort.Strings(mounts)
	return mounts
}

func hasMountPrefix(mountpoint string) bool {
	for _, prefix := range removableMountPrefixes {
		if strings.HasPrefix(mountpoint, prefix) && len(mountpoint) > len(prefix) {
			return true
		}
	}
	return false
}

// PlatformOS returns the host OS as reported by gopsutil ("linux",
// "darwin", "windows"), falling back to the compile target.
func PlatformOS() string {
	info, err := host.Info()
	if err != nil || info.OS == "" {
		return runtime.GOOS
	}
	return info.OS
}
