// SPDX-License-Identifier: MIT

// Package monitor runs the analysis side of the engine: on a fixed cadence
// it drains the transfer buffer, analyses the rolling window, keeps a
// snapshot for readers and publishes a spectrum frame to every transport.
//
// The monitor goroutine is the only consumer of the transfer buffer and the
// only user of the analyzer once Start has been called. Reconfiguration
// requests are queued and applied at the start of the next tick.
package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spectra/internal/analysis"
	"spectra/internal/log"
	"spectra/internal/separator"
	"spectra/internal/transfer"
	"spectra/internal/transport"
)

// DefaultInterval is used when Options.Interval is not positive (~60 Hz).
const DefaultInterval = 16 * time.Millisecond

// StatusSource reports the processing state published with every frame.
// The audio engine implements it.
type StatusSource interface {
	LatencySamples() int32
	GateMode() separator.GateMode
}

// Options configures a Monitor.
type Options struct {
	Interval   time.Duration
	Bands      []analysis.FrequencyBand // nil selects analysis.DefaultBands.
	Transports []transport.Transport
	Status     StatusSource // Optional.
}

// Status is a point-in-time summary of the last published frame.
type Status struct {
	Sequence       uint32
	Correlation    float64
	LatencySamples int32
	GateMode       separator.GateMode
	Paused         bool
	NumBins        int
	BinHz          float64
	SampleRate     float64
	FloorDb        float64
}

type reconfig struct {
	settings    analysis.Settings
	order       int
	rollingSize int
}

// Monitor is the analysis consumer loop.
type Monitor struct {
	buffer     *transfer.Buffer
	analyzer   *analysis.Analyzer
	transports []transport.Transport
	status     StatusSource
	interval   time.Duration
	bands      []analysis.FrequencyBand
	userBands  bool

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan.

	paused atomic.Bool

	pendingMu sync.Mutex
	pending   *reconfig

	// Owned by the monitor goroutine.
	meter              *analysis.BandMeter
	primary, secondary []float64
	levels             []float64
	frame              transport.SpectrumFrame
	sequence           uint32
	sendErrors         uint64

	snapMu        sync.RWMutex
	snapPrimary   []float64
	snapSecondary []float64
	snapLevels    []float64
	snapBands     []analysis.FrequencyBand
	snapStatus    Status
}

// New creates a Monitor consuming buffer and analysing with analyzer. The
// rolling window of buffer must hold at least one transform.
func New(buffer *transfer.Buffer, analyzer *analysis.Analyzer, opts Options) (*Monitor, error) {
	if buffer == nil {
		return nil, fmt.Errorf("Monitor: transfer buffer cannot be nil")
	}
	if analyzer == nil {
		return nil, fmt.Errorf("Monitor: analyzer cannot be nil")
	}
	if buffer.RollingSize() < analyzer.Size() {
		return nil, fmt.Errorf("Monitor: rolling window of %d samples is shorter than the %d-sample transform",
			buffer.RollingSize(), analyzer.Size())
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
		log.Warnf("Monitor: Invalid interval provided, defaulting to %s", interval)
	}

	m := &Monitor{
		buffer:     buffer,
		analyzer:   analyzer,
		transports: opts.Transports,
		status:     opts.Status,
		interval:   interval,
		bands:      opts.Bands,
		userBands:  opts.Bands != nil,
	}
	m.allocate()

	log.Infof("Monitor: Initializing (Interval: %s, Bins: %d, Transports: %d)",
		interval, analyzer.NumBins(), len(m.transports))
	return m, nil
}

// allocate sizes every buffer for the analyzer's current layout.
func (m *Monitor) allocate() {
	a := m.analyzer
	nb := a.NumBins()
	if !m.userBands {
		m.bands = analysis.DefaultBands(a.SampleRate())
	}
	m.meter = analysis.NewBandMeter(a, m.bands, a.FloorDb())

	m.primary = make([]float64, nb)
	m.secondary = make([]float64, nb)
	m.levels = make([]float64, len(m.bands))
	m.frame.Primary = make([]float32, nb)
	m.frame.Secondary = make([]float32, nb)

	primary := make([]float64, nb)
	secondary := make([]float64, nb)
	levels := make([]float64, len(m.bands))
	for i := range primary {
		primary[i] = a.FloorDb()
		secondary[i] = a.FloorDb()
	}
	for i := range levels {
		levels[i] = a.FloorDb()
	}

	m.snapMu.Lock()
	m.snapPrimary, m.snapSecondary, m.snapLevels = primary, secondary, levels
	m.snapBands = append([]analysis.FrequencyBand(nil), m.bands...)
	m.snapStatus.NumBins = nb
	m.snapStatus.BinHz = a.BinWidth()
	m.snapStatus.SampleRate = a.SampleRate()
	m.snapStatus.FloorDb = a.FloorDb()
	m.snapMu.Unlock()
}

// Start launches the monitor goroutine. Calling Start while running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.ticker != nil {
		m.mu.Unlock()
		log.Warnf("Monitor: Start called but already running.")
		return
	}
	m.ticker = time.NewTicker(m.interval)
	m.doneChan = make(chan struct{})
	m.stopOnce = sync.Once{}
	ticker, doneChan := m.ticker, m.doneChan
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Infof("Monitor: goroutine started (Interval: %s)", m.interval)
		for {
			select {
			case now := <-ticker.C:
				m.tick(now)
			case <-doneChan:
				log.Debugf("Monitor: goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the monitor goroutine and waits for it to exit. It is safe
// to call Stop multiple times.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.ticker == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopOnce.Do(func() {
		close(m.doneChan)
		m.ticker.Stop()
		m.ticker = nil
	})
	m.mu.Unlock()

	m.wg.Wait()
	log.Infof("Monitor: stopped after %d frames (%d send errors)", m.sequence, m.sendErrors)
	return nil
}

// Close stops the monitor. Transports are owned by the caller.
func (m *Monitor) Close() error {
	return m.Stop()
}

// SetPaused pauses or resumes analysis. While paused the transfer buffer
// is still drained so it never overflows, but nothing is analysed or
// published.
func (m *Monitor) SetPaused(paused bool) {
	m.paused.Store(paused)
}

// Paused reports whether analysis is paused.
func (m *Monitor) Paused() bool {
	return m.paused.Load()
}

// Reconfigure queues new analyzer settings, transform order and rolling
// window size. They are validated now and applied by the monitor goroutine
// at the start of its next tick. A newer request replaces a queued one.
func (m *Monitor) Reconfigure(settings analysis.Settings, order, rollingSize int) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := analysis.ValidateOrder(order); err != nil {
		return err
	}
	if size := 1 << order; rollingSize < size {
		return fmt.Errorf("%w: rolling size %d is shorter than transform size %d",
			analysis.ErrInvalidSettings, rollingSize, size)
	}

	m.pendingMu.Lock()
	m.pending = &reconfig{settings: settings, order: order, rollingSize: rollingSize}
	m.pendingMu.Unlock()
	return nil
}

func (m *Monitor) applyPending() {
	m.pendingMu.Lock()
	p := m.pending
	m.pending = nil
	m.pendingMu.Unlock()
	if p == nil {
		return
	}

	a := m.analyzer
	if err := a.ApplySettings(p.settings); err != nil {
		log.Errorf("Monitor: reconfiguration rejected: %v", err)
		return
	}
	if p.order != a.Order() {
		if err := a.Configure(p.order, a.FloorDb()); err != nil {
			log.Errorf("Monitor: reconfiguration rejected: %v", err)
			return
		}
	}
	if p.rollingSize != m.buffer.RollingSize() {
		if err := m.buffer.ResizeRolling(p.rollingSize); err != nil {
			log.Errorf("Monitor: rolling resize rejected: %v", err)
			return
		}
	}
	a.ResetSmoothing()
	m.allocate()
	log.Infof("Monitor: reconfigured (order %d, rolling %d, %s, smoothing %s, window %s)",
		a.Order(), m.buffer.RollingSize(), p.settings.ChannelMode, p.settings.Smoothing, p.settings.Window)
}

// tick runs one drain/analyse/publish cycle. It reports whether a frame
// was published.
func (m *Monitor) tick(now time.Time) bool {
	m.applyPending()

	if m.paused.Load() {
		m.buffer.DrainSilently()
		return false
	}
	if m.buffer.Drain() == 0 {
		return false
	}

	rollL, rollR := m.buffer.Rolling()
	writePos := m.buffer.RollingWritePos()
	if !m.analyzer.Process(rollL, rollR, writePos, m.primary, m.secondary) {
		return false
	}
	corr := analysis.RingCorrelation(rollL, rollR, writePos, m.analyzer.Size())
	m.meter.Measure(m.primary, m.levels)

	var latency int32
	mode := separator.PassThrough
	if m.status != nil {
		latency = m.status.LatencySamples()
		mode = m.status.GateMode()
	}

	m.sequence++
	m.snapMu.Lock()
	copy(m.snapPrimary, m.primary)
	copy(m.snapSecondary, m.secondary)
	copy(m.snapLevels, m.levels)
	m.snapStatus.Sequence = m.sequence
	m.snapStatus.Correlation = corr
	m.snapStatus.LatencySamples = latency
	m.snapStatus.GateMode = mode
	m.snapMu.Unlock()

	if len(m.transports) == 0 {
		return true
	}
	f := &m.frame
	f.Sequence = m.sequence
	f.Timestamp = now.UnixNano()
	f.SampleRate = m.analyzer.SampleRate()
	f.BinHz = float32(m.analyzer.BinWidth())
	f.FloorDb = float32(m.analyzer.FloorDb())
	for i, v := range m.primary {
		f.Primary[i] = float32(v)
	}
	for i, v := range m.secondary {
		f.Secondary[i] = float32(v)
	}
	f.Correlation = float32(corr)
	f.LatencySamples = latency
	f.GateMode = mode.String()

	for _, t := range m.transports {
		if err := t.Send(f); err != nil {
			m.sendErrors++
			log.Debugf("Monitor: send frame %d: %v", f.Sequence, err)
		}
	}
	return true
}

// SpectrumInto copies the latest primary and secondary spectra (dB) into
// the given slices and returns the number of bins copied. It does not
// allocate.
func (m *Monitor) SpectrumInto(primary, secondary []float64) int {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	n := copy(primary, m.snapPrimary)
	copy(secondary, m.snapSecondary)
	return n
}

// BandsInto copies the latest band levels (dB) into levels and returns the
// number copied.
func (m *Monitor) BandsInto(levels []float64) int {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return copy(levels, m.snapLevels)
}

// Bands returns the bands measured by BandsInto.
func (m *Monitor) Bands() []analysis.FrequencyBand {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return append([]analysis.FrequencyBand(nil), m.snapBands...)
}

// Status returns a summary of the last published frame.
func (m *Monitor) Status() Status {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	s := m.snapStatus
	s.Paused = m.paused.Load()
	return s
}

var _ interface{ Close() error } = (*Monitor)(nil)
