package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridpay/relayctl/internal/core/port"
)

// MeterLocks is a keyed mutex. Entries are released once no goroutine holds
// or waits for them.
type MeterLocks struct {
	mu    sync.Mutex
	locks map[string]*meterLock
}

type meterLock struct {
	mu   sync.Mutex
	refs int
}

func NewMeterLocks() *MeterLocks {
	return &MeterLocks{locks: make(map[string]*meterLock)}
}

// Lock blocks until the key is free and returns its unlock func.
func (l *MeterLocks) Lock(key string) func() {
	l.mu.Lock()
	ml, ok := l.locks[key]
	if !ok {
		ml = &meterLock{}
		l.locks[key] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.mu.Lock()
	return func() {
		ml.mu.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *MeterLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Accumulator owns read-modify-write of a meter's cumulative consumption.
// All mutations of one meter are serialized by its lock.
type Accumulator struct {
	Registry port.MeterRegistry
	Locks    *MeterLocks
	Now      func() time.Time
}

func NewAccumulator(registry port.MeterRegistry) *Accumulator {
	return &Accumulator{
		Registry: registry,
		Locks:    NewMeterLocks(),
		Now:      time.Now,
	}
}

// Exclusive runs fn inside the critical section of meterNumber.
func (a *Accumulator) Exclusive(meterNumber string, fn func() error) error {
	unlock := a.Locks.Lock(meterNumber)
	defer unlock()
	return fn()
}

func (a *Accumulator) AddConsumption(ctx context.Context, meterNumber string, delta float64) (float64, error) {
	var total float64
	err := a.Exclusive(meterNumber, func() error {
		var err error
		total, err = a.addLocked(ctx, meterNumber, delta)
		return err
	})
	return total, err
}

func (a *Accumulator) ResetConsumption(ctx context.Context, meterNumber string) error {
	return a.Exclusive(meterNumber, func() error {
		return a.resetLocked(ctx, meterNumber)
	})
}

// addLocked must run inside Exclusive.
func (a *Accumulator) addLocked(ctx context.Context, meterNumber string, delta float64) (float64, error) {
	meter, err := a.Registry.FindMeterByNumber(ctx, meterNumber)
	if err != nil {
		return 0, fmt.Errorf("read cumulative of %s: %w", meterNumber, err)
	}
	total := meter.CumulativeKWh + delta
	if err := a.Registry.UpdateCumulative(ctx, meterNumber, total, a.Now()); err != nil {
		return 0, fmt.Errorf("write cumulative of %s: %w", meterNumber, err)
	}
	return total, nil
}

// resetLocked must run inside Exclusive.
func (a *Accumulator) resetLocked(ctx context.Context, meterNumber string) error {
	if err := a.Registry.UpdateCumulative(ctx, meterNumber, 0, a.Now()); err != nil {
		return fmt.Errorf("reset cumulative of %s: %w", meterNumber, err)
	}
	return nil
}
