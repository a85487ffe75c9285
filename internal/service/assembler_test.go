package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/state"
)

func setupAssembler(t *testing.T, deviceType int) (*Assembler, *fakeVendor) {
	t.Helper()
	vendor, srv := newFakeVendor(t, deviceType)
	a := NewAssembler(newVendorClient(t, srv), "1234", zaptest.NewLogger(t), WithCallTimeout(5*time.Second))
	require.NoError(t, a.Setup(context.Background()))
	vendor.resetPaths()
	return a, vendor
}

func TestAssembler_Setup(t *testing.T) {
	a, _ := setupAssembler(t, 3)

	info := a.GetDeviceInfo()
	assert.Equal(t, "1234", info.DeviceID)
	assert.Equal(t, "Basement", info.DeviceName)
	assert.Equal(t, 3, info.DeviceType)
	assert.True(t, a.HasBackup())
	assert.Equal(t, state.StateAuthenticated, a.SessionState().CurrentState)
}

func TestAssembler_SetupUnknownDeviceType(t *testing.T) {
	_, srv := newFakeVendor(t, 42)
	a := NewAssembler(newVendorClient(t, srv), "1234", zaptest.NewLogger(t))

	err := a.Setup(context.Background())
	require.Error(t, err)
	assert.True(t, pumpspy.IsConfigurationError(err))

	_, err = a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay})
	assert.ErrorIs(t, err, ErrNotSetUp)
}

func TestAssembler_SetupSoftUserFailureIsFatal(t *testing.T) {
	vendor, srv := newFakeVendor(t, 3)
	vendor.failPaths["/users/email/user@example.com"] = http.StatusInternalServerError

	a := NewAssembler(newVendorClient(t, srv), "1234", zaptest.NewLogger(t))
	err := a.Setup(context.Background())
	require.Error(t, err)
	assert.True(t, pumpspy.IsSoftFailure(err))
}

func TestAssembler_RefreshWithBackup(t *testing.T) {
	a, vendor := setupAssembler(t, 3)

	snap, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalWeek})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/bbs/deviceid/1234",
		"/bbs_cycles/deviceid/1234/motor/ac/interval/day",
		"/bbs_cycles/deviceid/1234/motor/dc/interval/day",
		"/bbs_cycles/deviceid/1234/motor/ac/interval/week",
		"/bbs_cycles/deviceid/1234/motor/dc/interval/week",
	}, vendor.requestPaths())

	status, ok := snap.Status()
	require.True(t, ok)
	assert.Equal(t, -60, status.LastRSSI)

	for _, motor := range []pumpspy.Motor{pumpspy.MotorMain, pumpspy.MotorBackup} {
		for _, interval := range []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalWeek} {
			rec, ok := snap.Interval(motor, interval)
			require.True(t, ok, "%s/%s", motor, interval)
			assert.Equal(t, 5, rec.TotalCount)
		}
	}
	_, ok = snap.Interval(pumpspy.MotorMain, pumpspy.IntervalMonth)
	assert.False(t, ok)
}

func TestAssembler_RefreshWithoutBackupNeverAsksForDC(t *testing.T) {
	a, vendor := setupAssembler(t, 2)

	snap, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalWeek, pumpspy.IntervalMonth})
	require.NoError(t, err)

	paths := vendor.requestPaths()
	assert.Len(t, paths, 4)
	for _, p := range paths {
		assert.NotContains(t, p, "/motor/")
	}
	assert.Equal(t, "/well_cycles/deviceid/1234/interval/day", paths[1])

	_, ok := snap.Motors[pumpspy.MotorBackup]
	assert.False(t, ok)
	assert.Len(t, snap.Motors[pumpspy.MotorMain], 3)
}

func TestAssembler_RefreshDeduplicatesIntervals(t *testing.T) {
	a, vendor := setupAssembler(t, 1)

	_, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalDay})
	require.NoError(t, err)
	assert.Len(t, vendor.requestPaths(), 2)
}

func TestAssembler_InvalidTokenReauthenticatesOnce(t *testing.T) {
	a, vendor := setupAssembler(t, 3)
	authBefore := vendor.authCount()

	// the token expires in the middle of the refresh
	vendor.onRequest = func(path string) {
		if path == "/bbs_cycles/deviceid/1234/motor/dc/interval/day" && vendor.tokens == 1 {
			vendor.expire()
		}
	}

	snap, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay})
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, authBefore+1, vendor.authCount())
	assert.Equal(t, []string{
		"/bbs/deviceid/1234",
		"/bbs_cycles/deviceid/1234/motor/ac/interval/day",
		"/bbs_cycles/deviceid/1234/motor/dc/interval/day",
		"/bbs/deviceid/1234",
		"/bbs_cycles/deviceid/1234/motor/ac/interval/day",
		"/bbs_cycles/deviceid/1234/motor/dc/interval/day",
	}, vendor.requestPaths())

	_, ok := snap.Interval(pumpspy.MotorBackup, pumpspy.IntervalDay)
	assert.True(t, ok)
	assert.Equal(t, state.StateAuthenticated, a.SessionState().CurrentState)
}

func TestAssembler_RepeatedInvalidTokenFails(t *testing.T) {
	a, vendor := setupAssembler(t, 3)
	authBefore := vendor.authCount()
	vendor.rejectAll = true

	_, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay})
	require.Error(t, err)
	assert.ErrorIs(t, err, pumpspy.ErrInvalidAccessToken)
	assert.Equal(t, authBefore+1, vendor.authCount())
	assert.Equal(t, state.StateUnauthenticated, a.SessionState().CurrentState)

	// next refresh authenticates up front
	vendor.rejectAll = false
	_, err = a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay})
	require.NoError(t, err)
	assert.Equal(t, authBefore+2, vendor.authCount())
}

func TestAssembler_SoftIntervalFailureLeavesSlotAbsent(t *testing.T) {
	a, vendor := setupAssembler(t, 3)
	vendor.failPaths["/bbs_cycles/deviceid/1234/motor/dc/interval/week"] = http.StatusInternalServerError

	snap, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalWeek})
	require.NoError(t, err)

	_, ok := snap.Interval(pumpspy.MotorBackup, pumpspy.IntervalWeek)
	assert.False(t, ok)
	for _, slot := range []struct {
		motor    pumpspy.Motor
		interval pumpspy.Interval
	}{
		{pumpspy.MotorMain, pumpspy.IntervalDay},
		{pumpspy.MotorBackup, pumpspy.IntervalDay},
		{pumpspy.MotorMain, pumpspy.IntervalWeek},
	} {
		_, ok := snap.Interval(slot.motor, slot.interval)
		assert.True(t, ok, "%s/%s", slot.motor, slot.interval)
	}
	assert.NotNil(t, snap.Current)
}

func TestAssembler_SoftCurrentFailureStillReturnsSnapshot(t *testing.T) {
	a, vendor := setupAssembler(t, 1)
	vendor.failPaths["/sump/deviceid/1234"] = http.StatusBadGateway

	snap, err := a.Refresh(context.Background(), []pumpspy.Interval{pumpspy.IntervalDay})
	require.NoError(t, err)
	assert.Nil(t, snap.Current)
	_, ok := snap.Interval(pumpspy.MotorMain, pumpspy.IntervalDay)
	assert.True(t, ok)
}

func TestAssembler_CancelledRefreshKeepsToken(t *testing.T) {
	a, _ := setupAssembler(t, 3)
	client := a.client.(*pumpspy.Client)
	before := client.GetToken()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Refresh(ctx, []pumpspy.Interval{pumpspy.IntervalDay})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Same(t, before, client.GetToken())
	assert.Equal(t, "42", client.UserID())
}

func TestParseIntervals(t *testing.T) {
	got, err := ParseIntervals(strings.Split("day, Week ,day,,month", ","))
	require.NoError(t, err)
	assert.Equal(t, []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalWeek, pumpspy.IntervalMonth}, got)

	_, err = ParseIntervals([]string{"day", "fortnight"})
	assert.True(t, pumpspy.IsConfigurationError(err))
}
