package energymeter

import (
	"errors"
	"sync"
)

var ErrNoMoreReadings = errors.New("no more scripted readings")

// TestEnergyReader replays a fixed sequence of counter values. The last value
// repeats once the sequence is exhausted.
type TestEnergyReader struct {
	mu     sync.Mutex
	values []float64
	next   int
	Opened bool
	Closed bool
}

func NewTestEnergyReader(values ...float64) *TestEnergyReader {
	return &TestEnergyReader{values: values}
}

func (reader *TestEnergyReader) Open() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.Opened = true
	return nil
}

func (reader *TestEnergyReader) Close() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	reader.Closed = true
	return nil
}

func (reader *TestEnergyReader) ReadEnergyKWh() (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.values) == 0 {
		return 0, ErrNoMoreReadings
	}
	if reader.next >= len(reader.values) {
		return reader.values[len(reader.values)-1], nil
	}
	v := reader.values[reader.next]
	reader.next++
	return v, nil
}

func (reader *TestEnergyReader) IsClosed() bool {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	return reader.Closed
}
