package core

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
)

// Severity mirrors the debug report flag bits so callbacks can filter with the same masks.
type Severity vk.DebugReportFlagBits

const (
	SeverityInformation        Severity = Severity(vk.DebugReportInformationBit)
	SeverityWarning            Severity = Severity(vk.DebugReportWarningBit)
	SeverityPerformanceWarning Severity = Severity(vk.DebugReportPerformanceWarningBit)
	SeverityError              Severity = Severity(vk.DebugReportErrorBit)

	SeverityAll = SeverityInformation | SeverityWarning | SeverityPerformanceWarning | SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInformation:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityPerformanceWarning:
		return "performance"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("severity(%#x)", uint32(s))
}

// ParseSeverity accepts the names printed by Severity.String.
func ParseSeverity(name string) (Severity, bool) {
	switch name {
	case "info", "information":
		return SeverityInformation, true
	case "warning", "warn":
		return SeverityWarning, true
	case "performance", "perf":
		return SeverityPerformanceWarning, true
	case "error":
		return SeverityError, true
	}
	return 0, false
}

// Diagnostic is one structured validation message.
type Diagnostic struct {
	Severity   Severity
	ObjectType vk.DebugReportObjectType
	ObjectName string
	Handle     uint64
	Code       int32
	Category   string
	Message    string
	Device     string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s 0x%x: %s (code %d, %s)", d.Severity, d.ObjectName, d.Handle, d.Message, d.Code, d.Category)
}

// Reporter filters diagnostics, logs them, counts them and hands them to registered callbacks.
// It is shared by every device created from one instance.
type Reporter struct {
	mu           sync.RWMutex
	severities   Severity
	muted        map[int32]struct{}
	abortOnError bool

	callbacks *CallbackRegistry
	metrics   *Metrics
}

func NewReporter() *Reporter {
	return &Reporter{
		severities:   SeverityAll,
		muted:        make(map[int32]struct{}),
		abortOnError: true,
		callbacks:    NewCallbackRegistry(),
		metrics:      NewMetrics(),
	}
}

// SetFilter replaces the severity mask and the muted message codes.
func (r *Reporter) SetFilter(severities Severity, muted []int32, abortOnError bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.severities = severities
	r.abortOnError = abortOnError
	r.muted = make(map[int32]struct{}, len(muted))
	for _, c := range muted {
		r.muted[c] = struct{}{}
	}
}

func (r *Reporter) Callbacks() *CallbackRegistry {
	return r.callbacks
}

func (r *Reporter) Metrics() *Metrics {
	return r.metrics
}

func (r *Reporter) enabled(d *Diagnostic) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.severities&d.Severity == 0 {
		return false, false
	}
	if _, ok := r.muted[d.Code]; ok {
		return false, false
	}
	return true, r.abortOnError
}

/**
 * @brief Reports a diagnostic.
 * @param d The diagnostic to deliver.
 * @returns true when the intercepted call should be skipped.
 */
func (r *Reporter) Report(d Diagnostic) bool {
	enabled, abortOnError := r.enabled(&d)
	if !enabled {
		return false
	}
	r.metrics.Count(d.Severity, d.Code)

	l := Logger("device", d.Device, "code", d.Code, "object", d.ObjectName, "handle", fmt.Sprintf("0x%x", d.Handle))
	switch d.Severity {
	case SeverityError:
		l.Error(d.Message, "category", d.Category)
	case SeverityWarning, SeverityPerformanceWarning:
		l.Warn(d.Message, "category", d.Category, "severity", d.Severity.String())
	default:
		l.Info(d.Message, "category", d.Category)
	}

	skip := d.Severity == SeverityError && abortOnError
	if r.callbacks.Fire(d) {
		skip = true
	}
	return skip
}
