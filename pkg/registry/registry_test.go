package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuseq/campuseq-go/pkg/wire"
)

// fakeConn is a minimal Conn for registry tests.
type fakeConn struct {
	id          string
	mu          sync.Mutex
	closed      bool
	closeReason string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ConnID() string        { return f.id }
func (f *fakeConn) Send(body []byte) error { return nil }

func (f *fakeConn) CloseWithReason(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeReason = reason
	return nil
}

func (f *fakeConn) closedWith() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeReason
}

func TestBindEquipment(t *testing.T) {
	r := New()
	conn := newFakeConn("c1")
	r.Add(conn)

	require.NoError(t, r.BindEquipment("c1", "proj_101"))

	got, ok := r.LookupDevice("proj_101")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ConnID())

	e, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, ClassEquipment, e.Class)
	assert.Equal(t, "proj_101", e.DeviceID)
}

func TestBindEquipmentDuplicateRejected(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))
	r.Add(newFakeConn("c2"))

	require.NoError(t, r.BindEquipment("c1", "proj_101"))
	assert.ErrorIs(t, r.BindEquipment("c2", "proj_101"), ErrDeviceBound)

	// The first binding is preserved.
	got, ok := r.LookupDevice("proj_101")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ConnID())
}

func TestBindEquipmentErrors(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))

	assert.ErrorIs(t, r.BindEquipment("nope", "d1"), ErrUnknownConn)

	require.NoError(t, r.BindEquipment("c1", "d1"))
	assert.ErrorIs(t, r.BindEquipment("c1", "d2"), ErrAlreadyBound)
}

func TestBindOperatorLastWins(t *testing.T) {
	r := New()
	first := newFakeConn("c1")
	second := newFakeConn("c2")
	r.Add(first)
	r.Add(second)

	displaced, err := r.BindOperator("c1", "alice", wire.RoleTeacher)
	require.NoError(t, err)
	assert.Nil(t, displaced)

	displaced, err = r.BindOperator("c2", "alice", wire.RoleTeacher)
	require.NoError(t, err)
	require.NotNil(t, displaced)
	assert.Equal(t, "c1", displaced.ConnID())

	closed, reason := first.closedWith()
	assert.True(t, closed)
	assert.Equal(t, SupersededReason, reason)

	e, ok := r.Lookup("c2")
	require.True(t, ok)
	assert.Equal(t, "alice", e.UserID)
	assert.Equal(t, wire.RoleTeacher, e.Role)
}

func TestUnbindEquipment(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))
	require.NoError(t, r.BindEquipment("c1", "proj_101"))

	deviceID, wasEquipment := r.Unbind("c1")
	assert.True(t, wasEquipment)
	assert.Equal(t, "proj_101", deviceID)

	_, ok := r.LookupDevice("proj_101")
	assert.False(t, ok)
	_, ok = r.Lookup("c1")
	assert.False(t, ok)

	// A device freed by unbind can be bound again.
	r.Add(newFakeConn("c2"))
	assert.NoError(t, r.BindEquipment("c2", "proj_101"))
}

func TestUnbindOperator(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))
	_, err := r.BindOperator("c1", "alice", wire.RoleAdmin)
	require.NoError(t, err)

	deviceID, wasEquipment := r.Unbind("c1")
	assert.False(t, wasEquipment)
	assert.Empty(t, deviceID)
	assert.Empty(t, r.Operators())
}

func TestUnbindUnknown(t *testing.T) {
	r := New()
	deviceID, wasEquipment := r.Unbind("nope")
	assert.False(t, wasEquipment)
	assert.Empty(t, deviceID)
}

func TestTouchAdvancesHeartbeat(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))

	before, _ := r.Lookup("c1")
	time.Sleep(5 * time.Millisecond)
	r.Touch("c1")
	after, _ := r.Lookup("c1")

	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
}

func TestSnapshotAndOperators(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))
	r.Add(newFakeConn("c2"))
	r.Add(newFakeConn("c3"))
	require.NoError(t, r.BindEquipment("c1", "proj_101"))
	_, err := r.BindOperator("c2", "alice", wire.RoleAdmin)
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Len(t, snap, 3)
	classes := map[string]Class{}
	for _, e := range snap {
		classes[e.ConnID] = e.Class
	}
	assert.Equal(t, ClassEquipment, classes["c1"])
	assert.Equal(t, ClassOperator, classes["c2"])
	assert.Equal(t, ClassUnbound, classes["c3"])

	ops := r.Operators()
	require.Len(t, ops, 1)
	assert.Equal(t, "c2", ops[0].ConnID())
}

func TestMarkUnhealthy(t *testing.T) {
	r := New()
	r.Add(newFakeConn("c1"))

	e, _ := r.Lookup("c1")
	assert.True(t, e.Healthy)

	r.MarkUnhealthy("c1")
	e, _ = r.Lookup("c1")
	assert.False(t, e.Healthy)
}

func TestConcurrentBindSingleWinner(t *testing.T) {
	// Two connections race to bind the same device id; exactly one
	// wins and the loser sees ErrDeviceBound.
	r := New()
	r.Add(newFakeConn("c1"))
	r.Add(newFakeConn("c2"))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			errs <- r.BindEquipment(connID, "proj_101")
		}(id)
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrDeviceBound)
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}
