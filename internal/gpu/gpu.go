// Package gpu plans device placement for a launch: which devices the
// trainer may see and whether the request fits the machine.
package gpu

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Detection seams, swappable in tests.
var (
	lookPath      = exec.LookPath
	nvidiaSMILine = runNvidiaSMI
)

// Plan is the device placement for one launch.
type Plan struct {
	// Devices is the ordered device index list.
	Devices []int
	// Detected is the number of devices nvidia-smi reported, or -1 when
	// detection was unavailable.
	Detected int
}

// VisibleDevices renders the CUDA_VISIBLE_DEVICES value.
func (p Plan) VisibleDevices() string {
	parts := make([]string, len(p.Devices))
	for i, d := range p.Devices {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// Build resolves the device plan for a requested GPU count. An explicit
// device list (VERLCTL_GPUS, e.g. "0,2,4,6") wins and must match the
// requested count. Otherwise devices 0..n-1 are used. When detection
// succeeds and reports fewer devices than requested, the plan fails.
func Build(requested int, smiCommand string) (Plan, error) {
	if requested < 1 {
		return Plan{}, fmt.Errorf("%w: %d", ErrBadRequest, requested)
	}

	detected := detectCount(smiCommand)
	if detected >= 0 && requested > detected {
		return Plan{}, fmt.Errorf("%w: requested %d, detected %d", ErrNotEnoughDevices, requested, detected)
	}

	if explicit := strings.TrimSpace(os.Getenv("VERLCTL_GPUS")); explicit != "" {
		devices, err := parseDeviceList(explicit)
		if err != nil {
			return Plan{}, err
		}
		if len(devices) != requested {
			return Plan{}, fmt.Errorf("%w: VERLCTL_GPUS has %d devices, manifest requests %d",
				ErrDeviceListMismatch, len(devices), requested)
		}
		return Plan{Devices: devices, Detected: detected}, nil
	}

	devices := make([]int, requested)
	for i := range devices {
		devices[i] = i
	}
	return Plan{Devices: devices, Detected: detected}, nil
}

// parseDeviceList parses a comma-separated device index list, rejecting
// duplicates and negatives.
func parseDeviceList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	devices := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadDeviceList, s)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: duplicate device %d", ErrBadDeviceList, n)
		}
		seen[n] = true
		devices = append(devices, n)
	}
	return devices, nil
}

// detectCount returns the device count from nvidia-smi -L, or -1 when the
// tool is missing or fails. Absence is not an error; CI boxes and laptops
// validate manifests without GPUs.
func detectCount(smiCommand string) int {
	if smiCommand == "" {
		smiCommand = "nvidia-smi"
	}
	if _, err := lookPath(smiCommand); err != nil {
		return -1
	}
	out, err := nvidiaSMILine(smiCommand)
	if err != nil {
		return -1
	}
	count := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "GPU ") {
			count++
		}
	}
	return count
}

func runNvidiaSMI(command string) (string, error) {
	out, err := exec.Command(command, "-L").Output()
	if err != nil {
		return "", fmt.Errorf("run %s -L: %w", command, err)
	}
	return string(out), nil
}

// minGPUMemoryGB maps a model family to the minimum per-GPU memory (GB)
// a GRPO run needs at batch size 1.
var minGPUMemoryGB = map[string]int{
	"qwen2-vl-2b":   16,
	"qwen2-vl-7b":   40,
	"qwen2.5-vl-3b": 24,
	"qwen2.5-vl-7b": 40,
}

// MinMemoryGB returns the advisory minimum per-GPU memory for a model path,
// matched by family substring. Zero means no advice for this model.
func MinMemoryGB(modelPath string) int {
	p := strings.ToLower(modelPath)
	p = strings.ReplaceAll(p, "_", "-")
	switch {
	case strings.Contains(p, "qwen2.5-vl") || strings.Contains(p, "qwen2-5-vl"):
		if strings.Contains(p, "3b") {
			return minGPUMemoryGB["qwen2.5-vl-3b"]
		}
		return minGPUMemoryGB["qwen2.5-vl-7b"]
	case strings.Contains(p, "qwen2-vl"):
		if strings.Contains(p, "2b") {
			return minGPUMemoryGB["qwen2-vl-2b"]
		}
		return minGPUMemoryGB["qwen2-vl-7b"]
	}
	return 0
}
