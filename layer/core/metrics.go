package core

import "sync"

// Metrics counts delivered diagnostics per severity and per message code.
type Metrics struct {
	mu         sync.Mutex
	bySeverity map[Severity]uint64
	byCode     map[int32]uint64
	total      uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		bySeverity: make(map[Severity]uint64),
		byCode:     make(map[int32]uint64),
	}
}

func (m *Metrics) Count(s Severity, code int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySeverity[s]++
	m.byCode[code]++
	m.total++
}

func (m *Metrics) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *Metrics) Severity(s Severity) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bySeverity[s]
}

func (m *Metrics) Code(code int32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byCode[code]
}

// Reset clears every counter.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySeverity = make(map[Severity]uint64)
	m.byCode = make(map[int32]uint64)
	m.total = 0
}
