package layer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLifecycle(t *testing.T) {
	i := New("")
	assert.Equal(t, InstanceStageUninitialized, i.Stage())

	_, err := i.CreateDevice(ReferenceDevice().Info)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, i.Initialize())
	assert.Equal(t, InstanceStageInitialized, i.Stage())
	assert.True(t, i.Settings().Validation.CheckShaders)

	a, err := i.CreateDevice(ReferenceDevice().Info)
	require.NoError(t, err)
	b, err := i.CreateDevice(ReferenceDevice().Info)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Same(t, i.Reporter(), a.Reporter())
	assert.Len(t, i.Devices(), 2)

	require.NoError(t, i.DestroyDevice(a))
	require.ErrorIs(t, i.DestroyDevice(a), ErrUnknownDevice)
	assert.Len(t, i.Devices(), 1)

	require.NoError(t, i.Shutdown())
	assert.Empty(t, i.Devices())
}

func TestInstanceRejectsBrokenSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkcheck.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[report`), 0o644))

	i := New(path)
	require.Error(t, i.Initialize())
	assert.Equal(t, InstanceStageUninitialized, i.Stage())
}

func TestSettingsReachLiveDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkcheck.toml")
	require.NoError(t, os.WriteFile(path, []byte("[validation]\ncheck_shaders = true\n"), 0o644))

	i := New(path)
	require.NoError(t, i.Initialize())
	defer i.Shutdown()

	var failures int
	i.Reporter().Callbacks().Register(core.SeverityError, nil, func(core.Diagnostic, interface{}) bool {
		failures++
		return false
	})

	d, err := i.CreateDevice(ReferenceDevice().Info)
	require.NoError(t, err)
	garbage := []byte{1, 2, 3, 4}
	require.True(t, d.ValidateCreateShaderModule(garbage))
	require.Equal(t, 1, failures)

	require.NoError(t, os.WriteFile(path, []byte("[validation]\ncheck_shaders = false\n"), 0o644))
	require.Eventually(t, func() bool {
		return !d.ValidateCreateShaderModule(garbage)
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, i.Settings().Validation.CheckShaders)
}
