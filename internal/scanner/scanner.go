// Package scanner implements the BLE scanner policy layer (C5, §4.5): a
// thin wrapper over adapter.Adapter that applies allow/block address
// filtering before forwarding advertisements on, and reports its own
// idle/passive/active mode to subscribers. The allow/block filter mirrors
// the teacher's Scanner.shouldIncludeDevice, generalized from a one-shot
// discovery scan to a continuously-running forwarding sink.
package scanner

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/wireproto"
)

// Filter restricts which advertisements are forwarded. An empty AllowList
// admits everything not explicitly blocked; a non-empty AllowList admits
// only addresses it names. BlockList always takes precedence.
type Filter struct {
	AllowList map[uint64]struct{}
	BlockList map[uint64]struct{}
}

func (f Filter) allows(address uint64) bool {
	if _, blocked := f.BlockList[address]; blocked {
		return false
	}
	if len(f.AllowList) == 0 {
		return true
	}
	_, ok := f.AllowList[address]
	return ok
}

// Scanner is a policy layer over one adapter.Adapter: it owns the
// scan-active state, filters advertisements, and reports mode transitions.
type Scanner struct {
	adapter adapter.Adapter
	logger  *logrus.Logger

	onAd       func(wireproto.Ad)
	onModeChg  func(wireproto.ScannerMode)

	mu     sync.Mutex
	mode   wireproto.ScannerMode
	filter Filter
}

// New returns a Scanner in ScannerModeIdle. onAd receives every
// advertisement that passes the filter; onModeChange receives every mode
// transition.
func New(ad adapter.Adapter, onAd func(wireproto.Ad), onModeChange func(wireproto.ScannerMode), logger *logrus.Logger) *Scanner {
	s := &Scanner{
		adapter:   ad,
		logger:    logger,
		onAd:      onAd,
		onModeChg: onModeChange,
		mode:      wireproto.ScannerModeIdle,
	}
	ad.OnAdvertisement(s.handleAdvertisement)
	return s
}

// Mode returns the current scanner mode.
func (s *Scanner) Mode() wireproto.ScannerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetFilter replaces the allow/block filter applied to future
// advertisements.
func (s *Scanner) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

// Start begins scanning in the given mode (active=true selects
// scan-request/active scanning). No-op if already scanning in that mode;
// restarts the adapter scan if switching passive→active.
func (s *Scanner) Start(ctx context.Context, active bool) error {
	want := wireproto.ScannerModePassive
	if active {
		want = wireproto.ScannerModeActive
	}

	s.mu.Lock()
	if s.mode == want {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.adapter.StartScan(ctx, active); err != nil {
		return err
	}

	s.mu.Lock()
	s.mode = want
	s.mu.Unlock()
	s.emitMode(want)
	return nil
}

// Stop halts scanning, returning to ScannerModeIdle. No-op if already
// idle.
func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.mode == wireproto.ScannerModeIdle {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.adapter.StopScan(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.mode = wireproto.ScannerModeIdle
	s.mu.Unlock()
	s.emitMode(wireproto.ScannerModeIdle)
	return nil
}

func (s *Scanner) emitMode(mode wireproto.ScannerMode) {
	if s.onModeChg != nil {
		s.onModeChg(mode)
	}
}

func (s *Scanner) handleAdvertisement(ad wireproto.Ad) {
	s.mu.Lock()
	filter := s.filter
	s.mu.Unlock()

	if !filter.allows(ad.Address) {
		return
	}
	if s.logger != nil {
		s.logger.WithField("address", ad.Address).Debug("advertisement admitted by filter")
	}
	if s.onAd != nil {
		s.onAd(ad)
	}
}
