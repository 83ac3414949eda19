package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/helpdesk/internal/logging"
	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/internal/protocol"
)

type selectorFixture struct {
	history    *fakeHistory
	sub        *fakeSubscriber
	registry   *Registry
	reconciler *Reconciler
	unread     *UnreadTracker
	selector   *RoomSelector
}

func newSelectorFixture() *selectorFixture {
	f := &selectorFixture{
		history: newFakeHistory(),
		sub:     newFakeSubscriber(),
	}
	log := logging.Discard()
	f.registry = NewRegistry(f.sub, log)
	f.reconciler = NewReconciler(1, log, nil)
	f.unread = NewUnreadTracker(f.history, log)
	f.selector = NewRoomSelector(f.history, f.reconciler, f.registry, f.unread, roomBindings, 50, log)
	return f
}

func TestSelectLoadsHistoryThenGoesLive(t *testing.T) {
	f := newSelectorFixture()
	f.history.messages[3] = []*models.Message{
		confirmed(2, 3, 99, "newer"),
		confirmed(1, 3, 99, "older"),
	}
	f.unread.Set(3, 2)

	var states []SelectionState
	f.selector.OnChange = func(s SelectionState, _ int64) { states = append(states, s) }

	require.NoError(t, f.selector.Select(context.Background(), 3))

	id, state := f.selector.Active()
	assert.Equal(t, int64(3), id)
	assert.Equal(t, SelectionReady, state)
	assert.Equal(t, []SelectionState{SelectionLoading, SelectionReady}, states)

	msgs := f.reconciler.Messages(3)
	require.Len(t, msgs, 2)
	assert.Equal(t, "older", msgs[0].Content)

	assert.Equal(t, []string{protocol.RoomTopic(3), protocol.TypingTopic(3)}, f.registry.Topics())
	assert.Zero(t, f.unread.Count(3))
	assert.Equal(t, 1, f.history.readCount(3))
}

func TestSelectSameReadyRoomIsNoop(t *testing.T) {
	f := newSelectorFixture()

	require.NoError(t, f.selector.Select(context.Background(), 3))
	require.NoError(t, f.selector.Select(context.Background(), 3))

	assert.Equal(t, 1, f.history.fetchCount(3))
}

func TestSelectWithoutUnreadSkipsMarkRead(t *testing.T) {
	f := newSelectorFixture()

	require.NoError(t, f.selector.Select(context.Background(), 3))

	assert.Zero(t, f.history.readCount(3))
}

func TestSlowSelectionIsSuperseded(t *testing.T) {
	f := newSelectorFixture()
	f.history.messages[1] = []*models.Message{confirmed(10, 1, 99, "room one")}
	f.history.messages[2] = []*models.Message{confirmed(20, 2, 99, "room two")}
	gate := f.history.gate(1)

	slow := make(chan error, 1)
	go func() { slow <- f.selector.Select(context.Background(), 1) }()
	require.Eventually(t, func() bool { return f.history.fetchCount(1) == 1 }, waitFor, tick)

	require.NoError(t, f.selector.Select(context.Background(), 2))
	close(gate)

	require.ErrorIs(t, <-slow, ErrSelectionSuperseded)

	id, state := f.selector.Active()
	assert.Equal(t, int64(2), id)
	assert.Equal(t, SelectionReady, state)
	assert.Empty(t, f.reconciler.Messages(1))
	assert.Len(t, f.reconciler.Messages(2), 1)
	assert.Equal(t, []string{protocol.RoomTopic(2), protocol.TypingTopic(2)}, f.registry.Topics())
}

func TestSelectHistoryFailureStaysLoading(t *testing.T) {
	f := newSelectorFixture()
	f.history.fetchErr = errors.New("timeout")

	err := f.selector.Select(context.Background(), 4)

	require.ErrorIs(t, err, f.history.fetchErr)
	id, state := f.selector.Active()
	assert.Equal(t, int64(4), id)
	assert.Equal(t, SelectionLoading, state)
	assert.Empty(t, f.registry.Topics())

	// Selecting the room again retries the load
	f.history.mu.Lock()
	f.history.fetchErr = nil
	f.history.mu.Unlock()
	require.NoError(t, f.selector.Select(context.Background(), 4))

	_, state = f.selector.Active()
	assert.Equal(t, SelectionReady, state)
	assert.Equal(t, 2, f.history.fetchCount(4))
	assert.True(t, f.registry.RoomLive(4))
}

func TestSelectWhileOfflineReloadsOnceOnline(t *testing.T) {
	f := newSelectorFixture()
	f.history.messages[3] = []*models.Message{confirmed(30, 3, 99, "before")}
	f.sub.setOffline(true)

	require.NoError(t, f.selector.Select(context.Background(), 3))
	_, state := f.selector.Active()
	assert.Equal(t, SelectionReady, state)
	assert.Empty(t, f.registry.Topics())

	f.history.mu.Lock()
	f.history.messages[3] = append([]*models.Message{confirmed(31, 3, 99, "during outage")}, f.history.messages[3]...)
	f.history.mu.Unlock()
	f.sub.setOffline(false)

	require.NoError(t, f.selector.Select(context.Background(), 3))

	assert.Equal(t, 2, f.history.fetchCount(3))
	msgs := f.reconciler.Messages(3)
	require.Len(t, msgs, 2)
	assert.Equal(t, "during outage", msgs[1].Content)
	assert.Equal(t, []string{protocol.RoomTopic(3), protocol.TypingTopic(3)}, f.registry.Topics())
}

func TestSupersededSelectionLeavesNewerRoomIntact(t *testing.T) {
	f := newSelectorFixture()
	f.history.messages[1] = []*models.Message{confirmed(10, 1, 99, "room one")}
	f.history.messages[2] = []*models.Message{confirmed(20, 2, 99, "room two")}
	require.NoError(t, f.selector.Select(context.Background(), 1))

	gate := f.history.gate(2)
	slow := make(chan error, 1)
	go func() { slow <- f.selector.Select(context.Background(), 2) }()
	require.Eventually(t, func() bool { return f.history.fetchCount(2) == 1 }, waitFor, tick)

	require.NoError(t, f.selector.Select(context.Background(), 1))
	close(gate)
	require.ErrorIs(t, <-slow, ErrSelectionSuperseded)

	id, state := f.selector.Active()
	assert.Equal(t, int64(1), id)
	assert.Equal(t, SelectionReady, state)
	assert.Len(t, f.reconciler.Messages(1), 1)
	assert.Empty(t, f.reconciler.Messages(2))
	assert.True(t, f.registry.RoomLive(1))
}

func TestConcurrentSelectionsSettleOnOneRoom(t *testing.T) {
	f := newSelectorFixture()
	f.history.messages[1] = []*models.Message{confirmed(10, 1, 99, "room one")}
	f.history.messages[2] = []*models.Message{confirmed(20, 2, 99, "room two")}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []int64{1, 2} {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_ = f.selector.Select(context.Background(), id)
			}(id)
		}
		if i%10 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.selector.Deselect()
			}()
		}
	}
	wg.Wait()
	require.NoError(t, f.selector.Select(context.Background(), 2))

	id, state := f.selector.Active()
	require.Equal(t, int64(2), id)
	assert.Equal(t, SelectionReady, state)
	assert.True(t, f.registry.RoomLive(2))
	assert.Empty(t, f.reconciler.Messages(1))
	require.Len(t, f.reconciler.Messages(2), 1)
	assert.Equal(t, []string{protocol.RoomTopic(2), protocol.TypingTopic(2)}, f.registry.Topics())
	assert.Equal(t, 2, f.sub.total())
}

func TestSwitchingRoomClearsPrevious(t *testing.T) {
	f := newSelectorFixture()
	f.history.messages[1] = []*models.Message{confirmed(10, 1, 99, "room one")}

	require.NoError(t, f.selector.Select(context.Background(), 1))
	require.NoError(t, f.selector.Select(context.Background(), 2))

	assert.Empty(t, f.reconciler.Messages(1))
	assert.Zero(t, f.sub.count(protocol.RoomTopic(1)))
}

func TestDeselect(t *testing.T) {
	f := newSelectorFixture()
	require.NoError(t, f.selector.Select(context.Background(), 1))

	f.selector.Deselect()

	id, state := f.selector.Active()
	assert.Zero(t, id)
	assert.Equal(t, SelectionNone, state)
	assert.Empty(t, f.registry.Topics())
	assert.Equal(t, "NONE_SELECTED", state.String())
}

func TestInvalidateForcesReload(t *testing.T) {
	f := newSelectorFixture()
	require.NoError(t, f.selector.Select(context.Background(), 1))

	f.selector.Invalidate()
	_, state := f.selector.Active()
	assert.Equal(t, SelectionLoading, state)

	require.NoError(t, f.selector.Select(context.Background(), 1))
	assert.Equal(t, 2, f.history.fetchCount(1))
}
