package synchronizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/menu-sync/internal/notify"
	"github.com/example/menu-sync/internal/ordering"
)

type entry struct {
	ID   string
	Pos  int
	Name string
}

func (e entry) OrderKey() string         { return e.ID }
func (e entry) OrderPosition() int       { return e.Pos }
func (e entry) WithPosition(p int) entry { e.Pos = p; return e }
func (e entry) DisplayName() string      { return e.Name }

func seq(ids ...string) []entry {
	out := make([]entry, len(ids))
	for i, id := range ids {
		out[i] = entry{ID: id, Pos: i}
	}
	return out
}

type updateCall struct {
	parent  string
	updates []ordering.PositionUpdate
	result  chan error
}

// fakeRemote answers fetches from items and parks every UpdateOrder call on
// updates until the test replies.
type fakeRemote struct {
	mu        sync.Mutex
	items     []entry
	fetchErr  error
	fetchGate chan struct{}
	started   chan struct{}
	deleteErr error
	saveErr   error

	updates chan updateCall
}

func newFakeRemote(items []entry) *fakeRemote {
	return &fakeRemote{
		items:   items,
		started: make(chan struct{}, 8),
		updates: make(chan updateCall, 8),
	}
}

func (f *fakeRemote) FetchCollection(ctx context.Context, parent string) ([]entry, error) {
	f.mu.Lock()
	gate := f.fetchGate
	items := append([]entry(nil), f.items...)
	err := f.fetchErr
	f.mu.Unlock()

	f.started <- struct{}{}
	if gate != nil {
		// resolves even after cancellation, like a response already on the wire
		<-gate
	}
	return items, err
}

func (f *fakeRemote) UpdateOrder(ctx context.Context, parent string, updates []ordering.PositionUpdate) error {
	call := updateCall{parent: parent, updates: updates, result: make(chan error, 1)}
	f.updates <- call
	return <-call.result
}

func (f *fakeRemote) DeleteEntity(ctx context.Context, id string) (entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return entry{}, f.deleteErr
	}
	for _, e := range f.items {
		if e.ID == id {
			return e, nil
		}
	}
	return entry{}, errors.New("not found")
}

func (f *fakeRemote) SaveEntity(ctx context.Context, parent string, item entry) (entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return entry{}, f.saveErr
	}
	if item.ID == "" {
		item.ID = "new"
	}
	return item, nil
}

func (f *fakeRemote) nextUpdate(t *testing.T) updateCall {
	t.Helper()
	select {
	case call := <-f.updates:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for UpdateOrder")
		return updateCall{}
	}
}

func newTestSynchronizer(remote *fakeRemote) (*Synchronizer[entry], *notify.Recorder) {
	rec := &notify.Recorder{}
	return New[entry](remote, zerolog.Nop(), Config{Name: "menu", Notifier: rec}), rec
}

func loaded(t *testing.T, items []entry) (*Synchronizer[entry], *fakeRemote, *notify.Recorder) {
	t.Helper()
	remote := newFakeRemote(items)
	s, rec := newTestSynchronizer(remote)
	_, err := s.Load(context.Background(), "r1")
	require.NoError(t, err)
	<-remote.started
	return s, remote, rec
}

func reorderAsync(s *Synchronizer[entry], from, to int) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.ApplyOptimisticReorder(context.Background(), "r1", from, to) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reorder to settle")
		return nil
	}
}

func TestLoadSortsByPosition(t *testing.T) {
	remote := newFakeRemote([]entry{{ID: "c", Pos: 2}, {ID: "a", Pos: 0}, {ID: "b", Pos: 1}})
	s, _ := newTestSynchronizer(remote)

	got, err := s.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, seq("a", "b", "c"), got)
	assert.Equal(t, seq("a", "b", "c"), s.Snapshot("r1"))
}

func TestLoadFailureNotifies(t *testing.T) {
	remote := newFakeRemote(nil)
	remote.fetchErr = errors.New("boom")
	s, rec := newTestSynchronizer(remote)

	_, err := s.Load(context.Background(), "r1")
	require.Error(t, err)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, last.Level)
	assert.Equal(t, "Failed to retrieve menus", last.Title)
}

func TestReorderCommitKeepsOptimisticState(t *testing.T) {
	s, remote, rec := loaded(t, seq("a", "b", "c"))

	done := reorderAsync(s, 0, 2)
	call := remote.nextUpdate(t)

	// visible before the store answered
	assert.Equal(t, []entry{{ID: "b", Pos: 0}, {ID: "c", Pos: 1}, {ID: "a", Pos: 2}}, s.Snapshot("r1"))
	assert.Equal(t, "r1", call.parent)
	assert.Equal(t, []ordering.PositionUpdate{{ID: "b", NewPosition: 0}, {ID: "c", NewPosition: 1}, {ID: "a", NewPosition: 2}}, call.updates)

	call.result <- nil
	require.NoError(t, wait(t, done))

	want, err := ordering.Reorder(seq("a", "b", "c"), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, want, s.Snapshot("r1"))
	assert.Empty(t, rec.All())
}

func TestReorderFailureRevertsAndNotifies(t *testing.T) {
	s, remote, rec := loaded(t, seq("a", "b", "c"))

	done := reorderAsync(s, 0, 1)
	call := remote.nextUpdate(t)
	assert.Equal(t, []string{"b", "a", "c"}, ordering.Keys(s.Snapshot("r1")))

	conflict := errors.New("conflict")
	call.result <- conflict
	err := wait(t, done)
	require.ErrorIs(t, err, conflict)

	assert.Equal(t, seq("a", "b", "c"), s.Snapshot("r1"))
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, last.Level)
	assert.Equal(t, "Failed to update the position of menu", last.Title)
	assert.Equal(t, "conflict", last.Message)
}

func TestReorderSameIndexSkipsRemote(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b"))

	require.NoError(t, s.ApplyOptimisticReorder(context.Background(), "r1", 1, 1))
	assert.Len(t, remote.updates, 0)
	assert.Equal(t, seq("a", "b"), s.Snapshot("r1"))
}

func TestReorderOutOfRange(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b"))

	err := s.ApplyOptimisticReorder(context.Background(), "r1", 0, 5)
	require.ErrorIs(t, err, ordering.ErrIndexOutOfRange)
	assert.Len(t, remote.updates, 0)
	assert.Equal(t, seq("a", "b"), s.Snapshot("r1"))
}

func TestReorderSuppressesInFlightFetch(t *testing.T) {
	s, remote, rec := loaded(t, seq("a", "b", "c"))

	gate := make(chan struct{})
	remote.mu.Lock()
	remote.fetchGate = gate
	remote.mu.Unlock()

	fetched := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), "r1")
		fetched <- err
	}()
	<-remote.started

	done := reorderAsync(s, 2, 0)
	call := remote.nextUpdate(t)
	call.result <- nil
	require.NoError(t, wait(t, done))

	close(gate)
	select {
	case err := <-fetched:
		require.ErrorIs(t, err, ErrStaleFetch)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not resolve")
	}

	assert.Equal(t, []string{"c", "a", "b"}, ordering.Keys(s.Snapshot("r1")))
	assert.Empty(t, rec.All())
}

func TestNewerLoadSupersedesOlderLoad(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b"))

	gate := make(chan struct{})
	remote.mu.Lock()
	remote.fetchGate = gate
	remote.mu.Unlock()

	first := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), "r1")
		first <- err
	}()
	<-remote.started

	remote.mu.Lock()
	remote.fetchGate = nil
	remote.items = seq("b", "a")
	remote.mu.Unlock()

	got, err := s.Load(context.Background(), "r1")
	require.NoError(t, err)
	<-remote.started
	assert.Equal(t, seq("b", "a"), got)

	close(gate)
	require.ErrorIs(t, <-first, ErrStaleFetch)
	assert.Equal(t, seq("b", "a"), s.Snapshot("r1"))
}

func TestOlderFailureDoesNotClobberNewerCommit(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b", "c"))

	first := reorderAsync(s, 0, 1) // b a c
	call1 := remote.nextUpdate(t)
	second := reorderAsync(s, 0, 2) // a c b
	call2 := remote.nextUpdate(t)

	call2.result <- nil
	require.NoError(t, wait(t, second))
	call1.result <- errors.New("conflict")
	require.Error(t, wait(t, first))

	assert.Equal(t, seq("a", "c", "b"), s.Snapshot("r1"))
}

func TestFailureBeneathPendingReorderHandsOffRollback(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b", "c"))

	first := reorderAsync(s, 0, 1)
	call1 := remote.nextUpdate(t)
	second := reorderAsync(s, 0, 2)
	call2 := remote.nextUpdate(t)

	call1.result <- errors.New("conflict")
	require.Error(t, wait(t, first))
	// the newer optimistic state stays on screen while it is in flight
	assert.Equal(t, seq("a", "c", "b"), s.Snapshot("r1"))

	call2.result <- errors.New("conflict")
	require.Error(t, wait(t, second))
	assert.Equal(t, seq("a", "b", "c"), s.Snapshot("r1"))
}

func TestNewerFailureRevertsToOlderOptimisticState(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b", "c"))

	first := reorderAsync(s, 0, 1)
	call1 := remote.nextUpdate(t)
	second := reorderAsync(s, 0, 2)
	call2 := remote.nextUpdate(t)

	call2.result <- errors.New("conflict")
	require.Error(t, wait(t, second))
	assert.Equal(t, seq("b", "a", "c"), s.Snapshot("r1"))

	call1.result <- nil
	require.NoError(t, wait(t, first))
	assert.Equal(t, seq("b", "a", "c"), s.Snapshot("r1"))
}

func TestDeleteRemovesAndCompacts(t *testing.T) {
	items := []entry{{ID: "a", Pos: 0, Name: "Lunch"}, {ID: "b", Pos: 1, Name: "Dinner"}, {ID: "c", Pos: 2, Name: "Drinks"}}
	s, _, rec := loaded(t, items)

	deleted, err := s.Delete(context.Background(), "r1", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", deleted.ID)
	assert.Equal(t, []entry{{ID: "a", Pos: 0, Name: "Lunch"}, {ID: "c", Pos: 1, Name: "Drinks"}}, s.Snapshot("r1"))

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelSuccess, last.Level)
	assert.Equal(t, "Successfully deleted", last.Title)
	assert.Equal(t, "Deleted the menu Dinner", last.Message)
}

func TestDeleteFailureKeepsSnapshot(t *testing.T) {
	s, remote, rec := loaded(t, seq("a", "b"))
	remote.deleteErr = errors.New("forbidden")

	_, err := s.Delete(context.Background(), "r1", "a")
	require.Error(t, err)
	assert.Equal(t, seq("a", "b"), s.Snapshot("r1"))

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, last.Level)
	assert.Equal(t, "Failed to delete menu", last.Title)
}

func TestSaveAppendsAndReplaces(t *testing.T) {
	s, _, rec := loaded(t, seq("a", "b"))

	created, err := s.Save(context.Background(), "r1", entry{Name: "Brunch"})
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)
	assert.Equal(t, []string{"a", "b", "new"}, ordering.Keys(s.Snapshot("r1")))
	assert.Equal(t, 2, s.Snapshot("r1")[2].Pos)

	_, err = s.Save(context.Background(), "r1", entry{ID: "a", Pos: 9, Name: "Lunch"})
	require.NoError(t, err)
	snap := s.Snapshot("r1")
	assert.Equal(t, entry{ID: "a", Pos: 0, Name: "Lunch"}, snap[0])

	all := rec.All()
	require.Len(t, all, 2)
	assert.Equal(t, "Successfully created", all[0].Title)
	assert.Equal(t, "Created menu Brunch", all[0].Message)
	assert.Equal(t, "Successfully updated", all[1].Title)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b"))

	var mu sync.Mutex
	var seen [][]string
	unsubscribe := s.Subscribe("r1", func(items []entry) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ordering.Keys(items))
	})

	done := reorderAsync(s, 0, 1)
	call := remote.nextUpdate(t)
	call.result <- errors.New("conflict")
	require.Error(t, wait(t, done))

	unsubscribe()
	_, err := s.Load(context.Background(), "r1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]string{{"b", "a"}, {"a", "b"}}, seen)
}

func TestCloseDropsSnapshot(t *testing.T) {
	s, _, _ := loaded(t, seq("a", "b"))

	s.Close("r1")
	assert.Empty(t, s.Snapshot("r1"))
}

func TestReopenedCollectionStillRollsBack(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b", "c"))
	for i := 0; i < 2; i++ {
		done := reorderAsync(s, 0, 1)
		remote.nextUpdate(t).result <- nil
		require.NoError(t, wait(t, done))
	}

	late := reorderAsync(s, 0, 1)
	lateCall := remote.nextUpdate(t)

	s.Close("r1")
	_, err := s.Load(context.Background(), "r1")
	require.NoError(t, err)
	<-remote.started

	// answer for a reorder issued before the view was closed
	lateCall.result <- nil
	require.NoError(t, wait(t, late))

	done := reorderAsync(s, 0, 2)
	remote.nextUpdate(t).result <- errors.New("conflict")
	require.Error(t, wait(t, done))
	assert.Equal(t, seq("a", "b", "c"), s.Snapshot("r1"))
}

func TestRollbackKeepsConcurrentDelete(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b", "c"))

	done := reorderAsync(s, 0, 2)
	call := remote.nextUpdate(t)

	_, err := s.Delete(context.Background(), "r1", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ordering.Keys(s.Snapshot("r1")))

	call.result <- errors.New("conflict")
	require.Error(t, wait(t, done))
	assert.Equal(t, seq("a", "c"), s.Snapshot("r1"))
}

func TestRollbackKeepsConcurrentSaves(t *testing.T) {
	s, remote, _ := loaded(t, seq("a", "b", "c"))

	done := reorderAsync(s, 0, 2)
	call := remote.nextUpdate(t)

	_, err := s.Save(context.Background(), "r1", entry{Name: "Brunch"})
	require.NoError(t, err)
	_, err = s.Save(context.Background(), "r1", entry{ID: "a", Name: "Lunch"})
	require.NoError(t, err)

	call.result <- errors.New("conflict")
	require.Error(t, wait(t, done))
	assert.Equal(t, []entry{
		{ID: "a", Pos: 0, Name: "Lunch"},
		{ID: "b", Pos: 1},
		{ID: "c", Pos: 2},
		{ID: "new", Pos: 3, Name: "Brunch"},
	}, s.Snapshot("r1"))
}

func TestListenerMayMutateCollection(t *testing.T) {
	s, _, _ := loaded(t, seq("a", "b", "c"))

	var seen [][]string
	var once sync.Once
	s.Subscribe("r1", func(items []entry) {
		seen = append(seen, ordering.Keys(items))
		once.Do(func() {
			_, err := s.Delete(context.Background(), "r1", "b")
			assert.NoError(t, err)
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Load(context.Background(), "r1")
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener blocked on its own collection")
	}

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"a", "c"}}, seen)
}
