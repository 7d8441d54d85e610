package testbed

import (
	"testing"

	"github.com/spaghettifunk/vkcheck/layer"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstance(t *testing.T) *layer.Instance {
	t.Helper()
	inst := layer.New("")
	require.NoError(t, inst.Initialize())
	t.Cleanup(func() { _ = inst.Shutdown() })
	return inst
}

func TestBuiltinScenariosPass(t *testing.T) {
	inst := newInstance(t)
	for _, s := range Scenarios() {
		t.Run(s.Name, func(t *testing.T) {
			r, err := RunScenario(inst, s)
			require.NoError(t, err)
			assert.True(t, r.Passed, "reported %v, missing %v", r.Codes, r.Missing)
		})
	}
	assert.Empty(t, inst.Devices())
}

func TestScenarioDevicesDoNotShareDiagnostics(t *testing.T) {
	inst := newInstance(t)
	other, err := inst.CreateDevice(layer.ReferenceDevice().Info)
	require.NoError(t, err)
	noisy := NewDriver(other)
	defer noisy.Close()

	quiet := &Scenario{
		Name: "quiet",
		FnRun: func(d *Driver) error {
			// the other device misbehaves while this one does nothing wrong
			noisy.Free(0x42)
			return nil
		},
	}
	r, err := RunScenario(inst, quiet)
	require.NoError(t, err)
	assert.Empty(t, r.Codes)
	assert.True(t, r.Passed)
	assert.NotEmpty(t, noisy.Codes())
}

func TestMissingIsAnOrderedSubsequence(t *testing.T) {
	want := []vulkan.Code{vulkan.CodeSubpassOutOfRange, vulkan.CodeStillInsideRenderPass}

	assert.Empty(t, missing(want, []vulkan.Code{vulkan.CodeNoPipelineBound, vulkan.CodeSubpassOutOfRange, vulkan.CodeStillInsideRenderPass}))
	assert.Equal(t, []vulkan.Code{vulkan.CodeSubpassOutOfRange, vulkan.CodeStillInsideRenderPass},
		missing(want, []vulkan.Code{vulkan.CodeStillInsideRenderPass, vulkan.CodeSubpassOutOfRange}[:1]))
	assert.Equal(t, []vulkan.Code{vulkan.CodeStillInsideRenderPass},
		missing(want, []vulkan.Code{vulkan.CodeStillInsideRenderPass, vulkan.CodeSubpassOutOfRange}))
}

func TestSetupFailureIsReported(t *testing.T) {
	inst := newInstance(t)
	s := &Scenario{
		Name: "broken",
		FnSetup: func(d *Driver) error {
			_, err := d.Allocate(64, 99)
			return err
		},
		FnRun: func(*Driver) error { return nil },
	}
	_, err := RunScenario(inst, s)
	assert.ErrorContains(t, err, "broken setup")
}

func TestCleanFlushReachesDriverMemory(t *testing.T) {
	inst := newInstance(t)
	dev, err := inst.CreateDevice(layer.ReferenceDevice().Info)
	require.NoError(t, err)
	d := NewDriver(dev)
	defer d.Close()

	mem, err := d.Allocate(128, MemoryTypeHostCached)
	require.NoError(t, err)
	driver := make([]byte, 128)
	out, err := d.MapMemory(mem, 0, vulkan.WholeSize, driver)
	require.NoError(t, err)
	require.Len(t, out, 128)
	out[7] = 0xaa
	assert.Zero(t, driver[7])

	skip := dev.ValidateFlushMappedMemoryRanges([]vulkan.MappedMemoryRange{{Memory: mem, Size: vulkan.WholeSize}})
	assert.False(t, skip)
	assert.Empty(t, d.Codes())
	assert.EqualValues(t, 0xaa, driver[7])
}
