package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultImage, o.Image)
	assert.Equal(t, int64(DefaultMemoryBytes), o.MemoryBytes)

	o = Options{Image: "python:3.12-slim", MemoryBytes: 1 << 20}.withDefaults()
	assert.Equal(t, "python:3.12-slim", o.Image)
	assert.Equal(t, int64(1<<20), o.MemoryBytes)
}

func TestContainerConfig(t *testing.T) {
	cfg := containerConfig("python:alpine", "h-1")
	assert.Equal(t, "python:alpine", cfg.Image)
	assert.Equal(t, []string{"sleep", "infinity"}, []string(cfg.Cmd))
	assert.Equal(t, "h-1", cfg.Labels["pystudio.handle"])
}

func TestHostConfigLimitsMemory(t *testing.T) {
	hc := hostConfig(256 * 1024 * 1024)
	assert.Equal(t, int64(256*1024*1024), hc.Resources.Memory)
	if assert.NotNil(t, hc.Init) {
		assert.True(t, *hc.Init)
	}
}

func TestExitError(t *testing.T) {
	assert.EqualError(t, exitError(1, "Traceback...\nZeroDivisionError: division by zero\n"),
		"Traceback...\nZeroDivisionError: division by zero")
	assert.EqualError(t, exitError(137, "  "), "exit status 137")
}

func TestPythonCommand(t *testing.T) {
	assert.Equal(t, []string{"python", "-c", "print(1)"}, pythonCommand("print(1)"))
}
