// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package services

import (
	"context"
	"time"

	"github.com/tomtom215/realmgate/internal/logging"
)

// Task is one run of a periodic job. It returns how many items it processed.
type Task func(ctx context.Context) (int, error)

// PeriodicService runs a Task on a fixed interval until canceled. A failed
// run is logged and retried on the next tick; it never stops the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     Task
	onRun    func(processed int)
}

// NewPeriodicService creates a periodic service. onRun, when not nil,
// receives the count of every successful run.
func NewPeriodicService(name string, interval time.Duration, task Task, onRun func(int)) *PeriodicService {
	return &PeriodicService{name: name, interval: interval, task: task, onRun: onRun}
}

// Serve implements suture.Service. A non-positive interval disables the
// task; the service then idles until canceled.
func (p *PeriodicService) Serve(ctx context.Context) error {
	if p.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *PeriodicService) runOnce(ctx context.Context) {
	start := time.Now()
	n, err := p.task(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("service", p.name).Msg("Periodic task failed")
		return
	}
	if p.onRun != nil {
		p.onRun(n)
	}
	if n > 0 {
		logging.Debug().Str("service", p.name).Int("processed", n).
			Dur("duration", time.Since(start)).Msg("Periodic task completed")
	}
}

// String implements fmt.Stringer for suture's logs.
func (p *PeriodicService) String() string {
	return p.name
}
