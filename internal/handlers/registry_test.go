package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessari/passport/internal/interfaces"
)

func TestRegistrySubscriptionsAreBidirectional(t *testing.T) {
	r := NewRegistry()
	principal := &interfaces.Principal{Subject: "user-1", TenantID: "tenant-a"}

	r.Register("conn_1", principal)
	r.Register("conn_2", principal)

	require.NoError(t, r.Subscribe("conn_1", "job_a"))
	require.NoError(t, r.Subscribe("conn_1", "job_b"))
	require.NoError(t, r.Subscribe("conn_2", "job_a"))

	assert.ElementsMatch(t, []string{"conn_1", "conn_2"}, r.Watchers("job_a"))
	assert.ElementsMatch(t, []string{"conn_1"}, r.Watchers("job_b"))
	assert.ElementsMatch(t, []string{"job_a", "job_b"}, r.Subscriptions("conn_1"))
	assert.Equal(t, 2, r.ConnectionCount())
}

func TestRegistrySubscribeRequiresRegistration(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Subscribe("conn_ghost", "job_a"))
	assert.Empty(t, r.Watchers("job_a"))
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := NewRegistry()
	r.Register("conn_1", &interfaces.Principal{Subject: "user-1", TenantID: "tenant-a"})
	require.NoError(t, r.Subscribe("conn_1", "job_a"))

	r.Unsubscribe("conn_1", "job_a")
	assert.Empty(t, r.Watchers("job_a"))
	assert.Empty(t, r.Subscriptions("conn_1"))
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestRegistryUnregisterCleansBothDirections(t *testing.T) {
	r := NewRegistry()
	r.Register("conn_1", &interfaces.Principal{Subject: "user-1", TenantID: "tenant-a"})
	r.Register("conn_2", &interfaces.Principal{Subject: "user-2", TenantID: "tenant-a"})
	require.NoError(t, r.Subscribe("conn_1", "job_a"))
	require.NoError(t, r.Subscribe("conn_1", "job_b"))
	require.NoError(t, r.Subscribe("conn_2", "job_a"))

	watched := r.Unregister("conn_1")
	assert.ElementsMatch(t, []string{"job_a", "job_b"}, watched)

	// conn_2's subscription survives, conn_1 is gone everywhere
	assert.ElementsMatch(t, []string{"conn_2"}, r.Watchers("job_a"))
	assert.Empty(t, r.Watchers("job_b"))
	assert.Nil(t, r.Principal("conn_1"))
	assert.Equal(t, 1, r.ConnectionCount())

	// No memory of the disconnected client's subscriptions
	r.Register("conn_1", &interfaces.Principal{Subject: "user-1", TenantID: "tenant-a"})
	assert.Empty(t, r.Subscriptions("conn_1"))
}

func TestRegistryHeartbeatCounters(t *testing.T) {
	r := NewRegistry()
	r.Register("conn_1", &interfaces.Principal{Subject: "user-1", TenantID: "tenant-a"})

	assert.Equal(t, 1, r.RecordHeartbeatSent("conn_1"))
	assert.Equal(t, 2, r.RecordHeartbeatSent("conn_1"))

	r.RecordPong("conn_1")
	assert.Equal(t, 1, r.RecordHeartbeatSent("conn_1"))

	// Unknown connections report zero
	assert.Equal(t, 0, r.RecordHeartbeatSent("conn_ghost"))
}
