package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/notifier"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	result []models.Reservation
	err    error
	calls  chan struct{}
}

func (f *fakeSource) set(result []models.Reservation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = result, err
}

func (f *fakeSource) Overdue(ctx context.Context) ([]models.Reservation, error) {
	f.mu.Lock()
	result, err := f.result, f.err
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- struct{}{}
	}
	return result, err
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *recordingNotifier) NotifyOverdue(r models.Reservation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, r.ID)
	return n.err
}

func (n *recordingNotifier) GetType() string { return "recording" }

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type countingHousekeeper struct{ calls int }

func (h *countingHousekeeper) Sweep() int {
	h.calls++
	return 0
}

type sweepObserver struct {
	counts []int
	errs   int
}

func (o *sweepObserver) ObserveSweep(n int, err error) {
	if err != nil {
		o.errs++
		return
	}
	o.counts = append(o.counts, n)
}

func TestSweeper_RunOnceNotifiesEachReservationOnce(t *testing.T) {
	source := &fakeSource{}
	n := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("smtp down")}
	hk := &countingHousekeeper{}
	obs := &sweepObserver{}

	s := NewSweeper(SweeperConfig{
		Source:       source,
		Notifiers:    []notifier.Notifier{n, failing},
		Housekeepers: []Housekeeper{hk},
		Observer:     obs,
	})
	ctx := context.Background()

	source.set([]models.Reservation{{ID: "a"}, {ID: "b"}}, nil)
	overdue, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, overdue, 2)
	assert.Equal(t, []string{"a", "b"}, n.notified())

	source.set([]models.Reservation{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, n.notified())
	assert.Equal(t, []string{"a", "b", "c"}, failing.notified())

	// "a" was completed; if it ever shows up again it is reported again.
	source.set([]models.Reservation{{ID: "b"}, {ID: "c"}}, nil)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	source.set([]models.Reservation{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "a"}, n.notified())

	assert.Equal(t, 4, hk.calls)
	assert.Equal(t, []int{2, 3, 2, 3}, obs.counts)
}

func TestSweeper_SourceError(t *testing.T) {
	source := &fakeSource{}
	source.set(nil, errors.New("store unavailable"))
	obs := &sweepObserver{}
	n := &recordingNotifier{}

	s := NewSweeper(SweeperConfig{Source: source, Notifiers: []notifier.Notifier{n}, Observer: obs})

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, obs.errs)
	assert.Empty(t, n.notified())
}

func TestSweeper_StartTicks(t *testing.T) {
	clk := clockwork.NewFakeClock()
	source := &fakeSource{calls: make(chan struct{}, 10)}
	source.set([]models.Reservation{{ID: "a"}}, nil)
	n := &recordingNotifier{}

	s := NewSweeper(SweeperConfig{
		Source:    source,
		Notifiers: []notifier.Notifier{n},
		Interval:  time.Minute,
		Clock:     clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	waitCall := func() {
		t.Helper()
		select {
		case <-source.calls:
		case <-time.After(5 * time.Second):
			t.Fatal("sweep did not run")
		}
	}

	waitCall()
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	clk.Advance(time.Minute)
	waitCall()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	assert.Equal(t, []string{"a"}, n.notified())
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(SweeperConfig{Source: &fakeSource{}})
	assert.Equal(t, DefaultInterval, s.interval)
}
