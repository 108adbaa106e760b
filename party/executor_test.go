package party

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-party/types"
)

func playCommand(s *Session, uri string) Command {
	return func(ctx context.Context, token string) error {
		return s.client.Play(ctx, token, "", []string{uri}, 0)
	}
}

func TestExecuteTransferRecovery(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, _, _ := testSetup(api)

	user := testUser("u1", "u1-token")
	user.DeviceId = "dev1"
	persister.put(user)
	api.playFails["u1-token"] = 1 // first play lands on no active device

	err := session.exec.Execute(context.Background(), user, playCommand(session, "spotify:track:1"))
	require.NoError(t, err)
	assert.Equal(t, 1, api.transferCount("u1-token"))
	assert.Equal(t, 2, api.playCalls["u1-token"])
}

func TestExecuteDeviceUnavailable(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, _, _ := testSetup(api)

	user := testUser("u1", "u1-token")
	user.DeviceId = "dev1"
	persister.put(user)
	api.playFails["u1-token"] = -1 // the device never comes back

	err := session.exec.Execute(context.Background(), user, playCommand(session, "spotify:track:1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDeviceUnavailable))
	assert.Equal(t, 3, api.playCalls["u1-token"])
	// one transfer per retry, none after the final attempt
	assert.Equal(t, 2, api.transferCount("u1-token"))
}

func TestExecuteNoDeviceToTransferTo(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, _, _ := testSetup(api)

	user := testUser("u1", "u1-token")
	persister.put(user)
	api.playFails["u1-token"] = -1

	err := session.exec.Execute(context.Background(), user, playCommand(session, "spotify:track:1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDeviceUnavailable))
	// without a known device there is nothing to retry against
	assert.Equal(t, 1, api.playCalls["u1-token"])
	assert.Equal(t, 0, api.transferCount("u1-token"))
}

func TestExecuteUnrecoverableErrorPropagates(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, _, _ := testSetup(api)

	user := testUser("u1", "u1-token")
	user.DeviceId = "dev1"
	persister.put(user)

	calls := 0
	boom := errors.New("boom")
	err := session.exec.Execute(context.Background(), user, func(ctx context.Context, token string) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, types.ErrDeviceUnavailable))
	assert.Equal(t, 1, calls)
}

func TestFanOutIsolatesOutcomes(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, persister, _, _ := testSetup(api)

	listeners := make([]*types.User, 0, 4)
	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		user := testUser(id, id+"-token")
		user.DeviceId = "dev-" + id
		persister.put(user)
		listeners = append(listeners, user)
	}
	api.playFails["l3-token"] = -1

	res := session.exec.FanOut(context.Background(), listeners, 2, playCommand(session, "spotify:track:1"))
	assert.ElementsMatch(t, []string{"l1", "l2", "l4"}, res.Succeeded)
	assert.Equal(t, []string{"l3"}, res.Failed)
}

func TestFanOutNoListeners(t *testing.T) {
	api := newFakeAPI()
	defer api.close()
	session, _, _, _ := testSetup(api)

	res := session.exec.FanOut(context.Background(), nil, 4, playCommand(session, "spotify:track:1"))
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failed)
}
