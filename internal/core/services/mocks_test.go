package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// fakeBus records publishes and feeds every subscription from a single
// test-owned channel.
type fakeBus struct {
	mu           sync.Mutex
	published    map[string][][]byte
	publishErr   error
	subscribeErr error
	msgs         chan ports.Message
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		msgs:      make(chan ports.Message, 64),
	}
}

func (f *fakeBus) Publish(subject string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[subject] = append(f.published[subject], append([]byte(nil), payload...))
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string, _ ports.SubscribeOptions) (<-chan ports.Message, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.msgs, nil
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) sent(subject string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.published[subject]))
	copy(out, f.published[subject])
	return out
}

// fakeStore is an in-memory MeasurementStore capturing appends.
type fakeStore struct {
	mu        sync.Mutex
	appended  []domain.Result
	appendErr error
}

func (f *fakeStore) Append(_ context.Context, res domain.Result) (domain.StoredMeasurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return domain.StoredMeasurement{}, f.appendErr
	}
	f.appended = append(f.appended, res)
	stored := domain.StoredMeasurement{
		StorageID: domain.NewStorageID(),
		SavedAt:   time.Now().UTC(),
		Result:    res,
	}
	return stored, nil
}

func (f *fakeStore) Query(context.Context, ports.MeasurementFilter, int) ([]domain.StoredMeasurement, error) {
	return nil, nil
}

func (f *fakeStore) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{}, nil
}

func (f *fakeStore) ExportSnapshot(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) appendedResults() []domain.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Result, len(f.appended))
	copy(out, f.appended)
	return out
}

// captureBroadcaster records broadcasts and exposes them on a channel
// for async assertions.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []ports.Event
	ch     chan ports.Event
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{ch: make(chan ports.Event, 64)}
}

func (c *captureBroadcaster) Broadcast(e ports.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	select {
	case c.ch <- e:
	default:
	}
}

func (c *captureBroadcaster) all() []ports.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.Event, len(c.events))
	copy(out, c.events)
	return out
}
