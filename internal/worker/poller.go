package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller runs the scanner forever at a fixed cadence.
type Poller struct {
	scanner *Scanner
	delay   time.Duration
	logger  *zap.Logger
}

func NewPoller(scanner *Scanner, delay time.Duration, logger *zap.Logger) *Poller {
	return &Poller{scanner: scanner, delay: delay, logger: logger}
}

// Run scans, then sleeps for the poll delay minus the time the scan took,
// clamped at zero. A failed scan is logged and the loop carries on.
// Stops cleanly between iterations when ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", zap.Duration("delay", p.delay))

	for {
		start := time.Now()
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("scan failed", zap.Error(err))
		}

		wait := p.delay - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poller stopping")
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs a single scan.
func (p *Poller) RunOnce(ctx context.Context) (ScanResult, error) {
	return p.scanner.Scan(ctx)
}
