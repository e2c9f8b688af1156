package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vawter.tech/stopper"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	fail   bool
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	if m.block != nil {
		<-m.block
	}
	if m.fail {
		return errors.New("boom")
	}
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memSink) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestDispatcherDeliversAndFlushesOnStop(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(nil, 16, sink)
	for i := 0; i < 5; i++ {
		d.Record(Event{Type: EventStart, Program: "web", Index: i})
	}

	sctx := stopper.WithContext(context.Background())
	sctx.Go(d.Run)
	sctx.Stop(time.Second)
	require.NoError(t, sctx.Wait())

	got := sink.snapshot()
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, i, e.Index)
		assert.False(t, e.OccurredAt.IsZero())
	}
	assert.True(t, sink.closed)
	assert.EqualValues(t, 5, d.Sent())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(nil, 2, &memSink{})
	for i := 0; i < 5; i++ {
		d.Record(Event{Type: EventExit})
	}
	assert.EqualValues(t, 3, d.Dropped())
}

func TestDispatcherSinkFailureIsNotFatal(t *testing.T) {
	bad := &memSink{fail: true}
	good := &memSink{}
	d := NewDispatcher(nil, 4, bad, good)
	d.Record(Event{Type: EventFatal, Program: "x"})

	sctx := stopper.WithContext(context.Background())
	sctx.Go(d.Run)
	sctx.Stop(time.Second)
	require.NoError(t, sctx.Wait())
	assert.Len(t, good.snapshot(), 1)
	assert.EqualValues(t, 1, d.Sent())
}

func TestValidTable(t *testing.T) {
	for _, ok := range []string{"events", "taskmaster_events", "_t1"} {
		assert.True(t, ValidTable(ok), ok)
	}
	for _, bad := range []string{"", "1abc", "drop table;", "a-b", "a.b"} {
		assert.False(t, ValidTable(bad), bad)
	}
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "web:2", Event{Program: "web", Index: 2}.Key())
}
