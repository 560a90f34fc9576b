package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_ConnectDisconnect(t *testing.T) {
	r := NewRegistry()

	require.False(t, r.IsOnline("u1"))
	require.Equal(t, 0, r.Count())

	wentOnline := r.RecordConnect("u1", "c1", "alice", "a.png")
	require.True(t, wentOnline)
	require.True(t, r.IsOnline("u1"))
	require.Equal(t, 1, r.Count())

	wentOffline := r.RecordDisconnect("u1", "c1")
	require.True(t, wentOffline)
	require.False(t, r.IsOnline("u1"))
	require.Equal(t, 0, r.Count())
}

func TestRegistry_MultiDeviceStaysOnline(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.RecordConnect("u1", "phone", "alice", ""))
	require.False(t, r.RecordConnect("u1", "laptop", "alice", ""))
	require.Equal(t, 1, r.Count())

	// Entry reflects the newest connection.
	entry, ok := r.Get("u1")
	require.True(t, ok)
	require.Equal(t, "laptop", entry.ConnectionID)

	// Dropping one of two devices must not mark the user offline.
	require.False(t, r.RecordDisconnect("u1", "phone"))
	require.True(t, r.IsOnline("u1"))

	require.True(t, r.RecordDisconnect("u1", "laptop"))
	require.False(t, r.IsOnline("u1"))
}

func TestRegistry_DisconnectUnknownIsNoop(t *testing.T) {
	r := NewRegistry()

	require.False(t, r.RecordDisconnect("u1", "c1"))

	r.RecordConnect("u1", "c1", "alice", "")
	require.False(t, r.RecordDisconnect("u1", "other"))
	require.True(t, r.IsOnline("u1"))
}

func TestRegistry_ListOthers(t *testing.T) {
	r := NewRegistry()
	r.RecordConnect("u1", "c1", "alice", "")
	r.RecordConnect("u2", "c2", "bob", "")
	r.RecordConnect("u3", "c3", "carol", "")

	others := r.ListOthers("u2")
	require.Len(t, others, 2)
	for _, e := range others {
		require.NotEqual(t, "u2", e.UserID)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("u%d", i%10)
			cid := fmt.Sprintf("c%d", i)
			r.RecordConnect(uid, cid, "user", "")
			r.IsOnline(uid)
			r.ListOthers(uid)
			r.RecordDisconnect(uid, cid)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, r.Count())
}
