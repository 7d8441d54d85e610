package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPoolReusesReleasedSlots(t *testing.T) {
	p := NewIDPool(1)

	a := p.Acquire("a")
	b := p.Acquire("b")
	require.Equal(t, uint64(1), a)
	require.Equal(t, uint64(2), b)

	require.NoError(t, p.Release(a))
	assert.Nil(t, p.Owner(a))

	c := p.Acquire("c")
	assert.Equal(t, a, c)
	assert.Equal(t, "c", p.Owner(c))

	require.Error(t, p.Release(99))
	require.ErrorIs(t, NewIDPool(0).Release(0), ErrIdentifierRelease)
}

func TestReporterSkipsOnlyOnErrors(t *testing.T) {
	r := NewReporter()

	assert.False(t, r.Report(Diagnostic{Severity: SeverityWarning, Code: 1, Message: "w"}))
	assert.False(t, r.Report(Diagnostic{Severity: SeverityPerformanceWarning, Code: 2, Message: "p"}))
	assert.True(t, r.Report(Diagnostic{Severity: SeverityError, Code: 3, Message: "e"}))

	assert.Equal(t, uint64(3), r.Metrics().Total())
	assert.Equal(t, uint64(1), r.Metrics().Severity(SeverityError))
}

func TestReporterFilters(t *testing.T) {
	r := NewReporter()
	r.SetFilter(SeverityError, []int32{7}, true)

	assert.False(t, r.Report(Diagnostic{Severity: SeverityError, Code: 7, Message: "muted"}))
	assert.False(t, r.Report(Diagnostic{Severity: SeverityWarning, Code: 8, Message: "filtered"}))
	assert.Equal(t, uint64(0), r.Metrics().Total())

	r.SetFilter(SeverityAll, nil, false)
	assert.False(t, r.Report(Diagnostic{Severity: SeverityError, Code: 7, Message: "not aborting"}))
	assert.Equal(t, uint64(1), r.Metrics().Code(7))
}

func TestCallbacksCanAbort(t *testing.T) {
	r := NewReporter()

	var seen []Diagnostic
	id := r.Callbacks().Register(SeverityWarning, "ud", func(d Diagnostic, userData interface{}) bool {
		assert.Equal(t, "ud", userData)
		seen = append(seen, d)
		return true
	})
	require.Equal(t, 1, r.Callbacks().Len())

	assert.False(t, r.Report(Diagnostic{Severity: SeverityPerformanceWarning, Message: "ignored by mask"}))
	assert.True(t, r.Report(Diagnostic{Severity: SeverityWarning, Message: "abort"}))
	require.Len(t, seen, 1)
	assert.Equal(t, "abort", seen[0].Message)

	assert.True(t, r.Callbacks().Unregister(id))
	assert.False(t, r.Callbacks().Unregister(id))
	assert.False(t, r.Report(Diagnostic{Severity: SeverityWarning, Message: "no callback"}))
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []Severity{SeverityInformation, SeverityWarning, SeverityPerformanceWarning, SeverityError} {
		got, ok := ParseSeverity(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseSeverity("loud")
	assert.False(t, ok)
}
