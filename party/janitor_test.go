package party

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/types"
)

func TestNewJanitorDisabled(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, _, _ := testSetup(api)

	assert.Nil(t, NewJanitor(&config.Config{}, session, persister))

	cfg := &config.Config{}
	cfg.JanitorConfig.Interval = "@every 1m"
	assert.Nil(t, NewJanitor(cfg, session, persister)) // grace missing
}

func TestJanitorSweep(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, notifier, _ := testSetup(api)

	cfg := testConfig()
	cfg.JanitorConfig.Interval = "@every 1m"
	cfg.JanitorConfig.DisconnectGraceHours = 1
	janitor := NewJanitor(cfg, session, persister)
	require.NotNil(t, janitor)

	stale := time.Now().Add(-2 * time.Hour)

	host := seedHost(persister, "room1")
	host.Paused = true
	host.LastSeen = stale
	persister.put(host)

	gone := seedListener(persister, "l1", "room2")
	gone.Paused = true
	gone.LastSeen = stale
	persister.put(gone)

	recent := seedListener(persister, "l2", "room2")
	recent.Paused = true
	recent.LastSeen = time.Now()
	persister.put(recent)

	active := seedListener(persister, "l3", "room2")
	persister.put(active)

	other := testUser("other", "other-token")
	other.PlayingTo = "room2"
	other.DeviceId = "other-dev"
	persister.put(other)

	janitor.sweep()

	stored, _ := persister.GetUser("host")
	assert.True(t, stored.Idle())
	assert.Len(t, notifier.byName(types.EventTypeClosed), 1)

	stored, _ = persister.GetUser("l1")
	assert.True(t, stored.Idle())

	stored, _ = persister.GetUser("l2")
	assert.Equal(t, "room2", stored.ListeningTo)
	stored, _ = persister.GetUser("l3")
	assert.Equal(t, "room2", stored.ListeningTo)
	stored, _ = persister.GetUser("other")
	assert.True(t, stored.Hosting())
}
