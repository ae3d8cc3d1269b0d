package generate

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Device names understood by the engine and reported in model info.
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceMPS  = "mps"
	DeviceCPU  = "cpu"
)

const probeTimeout = 2 * time.Second

// Prober reports which accelerators are visible to this process.
type Prober interface {
	CUDAAvailable(ctx context.Context) bool
	MPSAvailable() bool
}

// hostProber inspects the local machine.
type hostProber struct{}

// CUDAAvailable reports whether an NVIDIA driver is loaded and answers.
func (hostProber) CUDAAvailable(ctx context.Context) bool {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--list-gpus").Output()
	return err == nil && strings.TrimSpace(string(out)) != ""
}

// MPSAvailable reports whether Metal is available (Apple silicon).
func (hostProber) MPSAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// selectDevice resolves the configured device. "auto" (or empty) prefers
// cuda, then mps, then cpu. Any other value is used as given.
func selectDevice(ctx context.Context, configured string, p Prober) string {
	device := strings.ToLower(strings.TrimSpace(configured))
	if device == "" || device == DeviceAuto {
		switch {
		case p.CUDAAvailable(ctx):
			device = DeviceCUDA
		case p.MPSAvailable():
			device = DeviceMPS
		default:
			device = DeviceCPU
		}
	}
	slog.Info("using device", "device", device)
	return device
}

// dtypeFor returns the weight precision used on a device.
func dtypeFor(device string) string {
	if device == DeviceCPU {
		return "float32"
	}
	return "float16"
}
