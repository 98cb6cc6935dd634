// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/storage"
)

func runFor(t *testing.T, svc interface{ Serve(context.Context) error }, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	for !until() && ctx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v, want context error", err)
	}
	if !until() {
		t.Fatal("condition not reached before timeout")
	}
}

func TestPeriodicService_RunsAndSurvivesFailures(t *testing.T) {
	t.Parallel()

	var runs, reported atomic.Int32
	task := func(context.Context) (int, error) {
		if runs.Add(1) == 1 {
			return 0, errors.New("first run fails")
		}
		return 2, nil
	}
	svc := NewPeriodicService("test-task", 5*time.Millisecond, task, func(n int) {
		reported.Add(int32(n))
	})

	runFor(t, svc, func() bool { return runs.Load() >= 3 })

	// the failed run reports nothing
	if got, want := reported.Load(), 2*(runs.Load()-1); got < 4 || got > want {
		t.Errorf("reported = %d, want between 4 and %d", got, want)
	}
	if svc.String() != "test-task" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestPeriodicService_DisabledInterval(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	svc := NewPeriodicService("off", 0, func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v, want deadline exceeded", err)
	}
	if runs.Load() != 0 {
		t.Errorf("disabled task ran %d times", runs.Load())
	}
}

func TestSessionSweeper(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()
	for _, ttl := range []time.Duration{-time.Minute, -time.Second, time.Hour} {
		if err := store.Save(ctx, session.New(ttl)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	before := testutil.ToFloat64(metrics.SessionsExpired)
	runFor(t, NewSessionSweeper(store, 5*time.Millisecond), func() bool { return store.Count() == 1 })

	if delta := testutil.ToFloat64(metrics.SessionsExpired) - before; delta < 2 {
		t.Errorf("sessions_expired_total grew by %v, want at least 2", delta)
	}
}

func TestStorageGC_InMemory(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var ran atomic.Bool
	gc := NewStorageGC(db, 5*time.Millisecond)
	gc.onRun = func(int) { ran.Store(true) }
	runFor(t, gc, ran.Load)
}
