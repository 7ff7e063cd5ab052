package voice

import (
	"sync"
	"time"
)

const (
	meterInterval = 50 * time.Millisecond
	// meterDecay pulls a level toward zero between pushes so the bar falls
	// smoothly when a stream goes quiet.
	meterDecay = 0.75
)

// Meter aggregates per-stream audio levels and samples them on a fixed tick,
// the event-loop analog of an animation-frame analyser tap. The loop starts
// lazily with the first attached stream and stops entirely at zero streams so
// an idle client burns no CPU on metering.
type Meter struct {
	mu       sync.Mutex
	levels   map[string]float64
	onSample func(map[string]float64)
	stop     chan struct{}
}

// NewMeter creates a meter; onSample receives a fresh copy of all current
// levels on every tick. May be nil if the shell does not render levels.
func NewMeter(onSample func(map[string]float64)) *Meter {
	return &Meter{
		levels:   make(map[string]float64),
		onSample: onSample,
	}
}

// Attach registers a stream. The first stream starts the sampling loop.
func (m *Meter) Attach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[id]; ok {
		return
	}
	m.levels[id] = 0
	if m.stop == nil {
		m.stop = make(chan struct{})
		go m.loop(m.stop)
	}
}

// Detach removes a stream. Removing the last stream stops the loop.
func (m *Meter) Detach(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, id)
	if len(m.levels) == 0 && m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Push records a stream's instantaneous level in [0,1]. Levels only jump up
// immediately; decay brings them down on the sampling tick.
func (m *Meter) Push(id string, level float64) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	m.mu.Lock()
	if cur, ok := m.levels[id]; ok && level > cur {
		m.levels[id] = level
	}
	m.mu.Unlock()
}

// Active reports whether the sampling loop is currently running.
func (m *Meter) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Meter) loop(stop chan struct{}) {
	ticker := time.NewTicker(meterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			snapshot := make(map[string]float64, len(m.levels))
			for id, lv := range m.levels {
				snapshot[id] = lv
				m.levels[id] = lv * meterDecay
			}
			cb := m.onSample
			m.mu.Unlock()
			if cb != nil {
				cb(snapshot)
			}
		}
	}
}
