package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	s, err := Parse([]byte(`
[report]
muted = [12, 40]

[validation]
shadow_guard_size = 256
`))
	require.NoError(t, err)

	assert.Equal(t, []int32{12, 40}, s.Report.Muted)
	assert.Equal(t, uint64(256), s.Validation.ShadowGuardSize)
	assert.True(t, s.Report.AbortOnError)
	assert.True(t, s.Validation.CheckShaders)

	mask, err := s.SeverityMask()
	require.NoError(t, err)
	assert.Equal(t, core.SeverityError|core.SeverityWarning|core.SeverityPerformanceWarning, mask)
}

func TestParseRejectsUnknownSeverity(t *testing.T) {
	_, err := Parse([]byte(`
[report]
severities = ["error", "shouting"]
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidSettings)

	_, err = Parse([]byte(`[report`))
	require.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	in := Default()
	in.Report.Muted = []int32{3}
	data, err := in.Encode()
	require.NoError(t, err)

	out, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestApplyConfiguresReporter(t *testing.T) {
	s := Default()
	s.Report.Severities = []string{"error"}
	s.Report.Muted = []int32{5}

	r := core.NewReporter()
	s.Apply(r)

	assert.False(t, r.Report(core.Diagnostic{Severity: core.SeverityWarning, Code: 1}))
	assert.False(t, r.Report(core.Diagnostic{Severity: core.SeverityError, Code: 5}))
	assert.True(t, r.Report(core.Diagnostic{Severity: core.SeverityError, Code: 6}))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkcheck.toml")
	require.NoError(t, os.WriteFile(path, []byte("[report]\nmuted = [1]\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	var reloads atomic.Int32
	w.Subscribe(func(s *Settings) { reloads.Add(1) })
	require.Equal(t, int32(1), reloads.Load())
	require.Equal(t, []int32{1}, w.Current().Report.Muted)

	require.NoError(t, os.WriteFile(path, []byte("[report]\nmuted = [2, 3]\n"), 0o644))

	require.Eventually(t, func() bool {
		m := w.Current().Report.Muted
		return len(m) == 2 && m[0] == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(2))

	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Close(), core.ErrWatcherClosed)
}
