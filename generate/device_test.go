package generate

import (
	"context"
	"testing"
)

func TestSelectDevice(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		prober     stubProber
		want       string
	}{
		{"auto prefers cuda", "auto", stubProber{cuda: true, mps: true}, DeviceCUDA},
		{"auto mps", "auto", stubProber{mps: true}, DeviceMPS},
		{"auto cpu", "auto", stubProber{}, DeviceCPU},
		{"empty is auto", "", stubProber{cuda: true}, DeviceCUDA},
		{"case insensitive", "AUTO", stubProber{}, DeviceCPU},
		{"explicit cpu ignores probe", "cpu", stubProber{cuda: true}, DeviceCPU},
		{"explicit value used as is", "cuda:1", stubProber{}, "cuda:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectDevice(context.Background(), tt.configured, tt.prober); got != tt.want {
				t.Errorf("selectDevice(%q) = %q, want %q", tt.configured, got, tt.want)
			}
		})
	}
}

func TestDtypeFor(t *testing.T) {
	tests := map[string]string{
		DeviceCPU:  "float32",
		DeviceCUDA: "float16",
		DeviceMPS:  "float16",
	}
	for device, want := range tests {
		if got := dtypeFor(device); got != want {
			t.Errorf("dtypeFor(%q) = %q, want %q", device, got, want)
		}
	}
}
