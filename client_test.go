package eldes_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/caarlos0/homekit-eldes/eldestest"
	"github.com/stretchr/testify/require"
)

func newLoggedIn(t *testing.T, srv *eldestest.Server, opts ...eldes.Option) *eldes.Client {
	t.Helper()
	cli := srv.NewClient(t, opts...)
	require.NoError(t, cli.Login(context.Background()))
	return cli
}

func TestLoginAndDevices(t *testing.T) {
	srv := eldestest.NewServer(t)
	srv.AddDevice("Home", eldestest.SampleDevice())
	cli := newLoggedIn(t, srv)

	devices, err := cli.Devices(context.Background())
	require.NoError(t, err)
	require.Equal(t, []eldes.DeviceSummary{{
		IMEI:  eldestest.IMEI,
		Name:  "Home",
		Model: "ESIM364",
	}}, devices)

	session := cli.Session().Current()
	require.NotEmpty(t, session.Token)
	require.NotEmpty(t, session.RefreshToken)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := srv.NewClientWithPassword(t, "wrong")

	err := cli.Login(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, eldes.ErrAuthentication)
	require.Equal(t, eldes.KindAuthentication, eldes.KindOf(err))
}

func TestEnsureFresh(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, tt := range map[string]struct {
		after time.Duration
		renew bool
	}{
		"right after login":    {0, false},
		"inside lease":         {59 * time.Second, false},
		"one tick before":      {90*time.Second - time.Nanosecond, false},
		"exactly at expiry":    {90 * time.Second, true},
		"after expiry":         {91 * time.Second, true},
		"long after the lease": {time.Hour, true},
		"clock went backwards": {-time.Hour, false},
	} {
		t.Run(name, func(t *testing.T) {
			srv := eldestest.NewServer(t)
			now := start
			cli := newLoggedIn(t, srv, eldes.WithClock(func() time.Time { return now }))
			require.Equal(t, start.Add(90*time.Second), cli.Session().Current().Expiry)

			now = start.Add(tt.after)
			require.NoError(t, cli.Session().EnsureFresh(context.Background()))

			renews := 0
			if tt.renew {
				renews = 1
			}
			require.Equal(t, renews, srv.Calls(eldestest.RouteRenew))
			require.Equal(t, 1, srv.Calls(eldestest.RouteLogin))
		})
	}
}

func TestRenewKeepsRefreshToken(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv)
	before := cli.Session().Current()

	require.NoError(t, cli.Session().Renew(context.Background()))

	after := cli.Session().Current()
	require.NotEqual(t, before.Token, after.Token)
	require.Equal(t, before.RefreshToken, after.RefreshToken, "renew response has no refresh token")
}

func TestRenewRejectedFallsBackToLogin(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv)
	srv.RevokeRefreshTokens()

	require.NoError(t, cli.Session().Renew(context.Background()))
	require.Equal(t, 1, srv.Calls(eldestest.RouteRenew))
	require.Equal(t, 2, srv.Calls(eldestest.RouteLogin))
}

func TestRenewFallbackLoginRejected(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv)
	srv.RevokeRefreshTokens()
	srv.FailNext(eldestest.RouteLogin, http.StatusUnauthorized)

	err := cli.Session().Renew(context.Background())
	require.ErrorIs(t, err, eldes.ErrAuthentication)
	require.NotErrorIs(t, err, eldes.ErrTransient)
}

func TestRenewNetworkErrorPropagates(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv, eldes.WithTimeout(50*time.Millisecond))
	srv.Delay(eldestest.RouteRenew, time.Second)

	err := cli.Session().Renew(context.Background())
	require.ErrorIs(t, err, eldes.ErrTransient)
	require.ErrorIs(t, err, eldes.ErrTimeout)
	require.Equal(t, 1, srv.Calls(eldestest.RouteLogin), "must not fall back to login on network errors")
}

func TestUnauthorizedRetriesOnceAfterLogin(t *testing.T) {
	srv := eldestest.NewServer(t)
	srv.AddDevice("Home", eldestest.SampleDevice())
	cli := newLoggedIn(t, srv)
	srv.ExpireTokens()

	devices, err := cli.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, 2, srv.Calls(eldestest.RouteLogin))
	require.Equal(t, 2, srv.Calls(eldestest.RouteDevices))
	require.Equal(t, 0, srv.Calls(eldestest.RouteRenew))
}

func TestUnauthorizedTwiceFails(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv)
	srv.FailNext(eldestest.RouteDevices, http.StatusUnauthorized, http.StatusUnauthorized)

	_, err := cli.Devices(context.Background())
	require.ErrorIs(t, err, eldes.ErrAuthentication)

	var e *eldes.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, http.StatusUnauthorized, e.StatusCode)
	require.Equal(t, 2, srv.Calls(eldestest.RouteLogin))
	require.Equal(t, 2, srv.Calls(eldestest.RouteDevices))
}

func TestForbiddenRenewsAndRetries(t *testing.T) {
	srv := eldestest.NewServer(t)
	srv.AddDevice("Home", eldestest.SampleDevice())
	cli := newLoggedIn(t, srv)
	srv.FailNext(eldestest.RoutePartitions, http.StatusForbidden)

	parts, err := cli.Partitions(context.Background(), eldestest.IMEI)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, 1, srv.Calls(eldestest.RouteRenew))
	require.Equal(t, 1, srv.Calls(eldestest.RouteLogin))
	require.Equal(t, 2, srv.Calls(eldestest.RoutePartitions))
}

func TestAuthRecoveryPerOperation(t *testing.T) {
	operations := map[string]struct {
		route string
		call  func(ctx context.Context, cli *eldes.Client) error
	}{
		"list partitions": {eldestest.RoutePartitions, func(ctx context.Context, cli *eldes.Client) error {
			_, err := cli.Partitions(ctx, eldestest.IMEI)
			return err
		}},
		"arm": {eldestest.RouteAction(eldes.ModeArm), func(ctx context.Context, cli *eldes.Client) error {
			return cli.SetAlarm(ctx, eldes.ModeArm, eldestest.IMEI, 0)
		}},
		"enable output": {eldestest.RouteOutput(eldestest.IMEI, 7, true), func(ctx context.Context, cli *eldes.Client) error {
			return cli.SetOutput(ctx, eldestest.IMEI, 7, true)
		}},
	}
	statuses := map[int]struct {
		logins int
		renews int
	}{
		http.StatusUnauthorized: {logins: 2, renews: 0},
		http.StatusForbidden:    {logins: 1, renews: 1},
	}

	for name, op := range operations {
		for status, expected := range statuses {
			t.Run(fmt.Sprintf("%s/%d/recovers", name, status), func(t *testing.T) {
				srv := eldestest.NewServer(t)
				srv.AddDevice("Home", eldestest.SampleDevice())
				cli := newLoggedIn(t, srv)
				srv.FailNext(op.route, status)

				require.NoError(t, op.call(context.Background(), cli))
				require.Equal(t, 2, srv.Calls(op.route))
				require.Equal(t, expected.logins, srv.Calls(eldestest.RouteLogin))
				require.Equal(t, expected.renews, srv.Calls(eldestest.RouteRenew))
			})

			t.Run(fmt.Sprintf("%s/%d/fails after one retry", name, status), func(t *testing.T) {
				srv := eldestest.NewServer(t)
				srv.AddDevice("Home", eldestest.SampleDevice())
				cli := newLoggedIn(t, srv)
				srv.FailNext(op.route, status, status)

				err := op.call(context.Background(), cli)
				require.ErrorIs(t, err, eldes.ErrAuthentication)
				var e *eldes.Error
				require.True(t, errors.As(err, &e))
				require.Equal(t, status, e.StatusCode)
				require.Equal(t, 2, srv.Calls(op.route))
				require.Equal(t, expected.logins, srv.Calls(eldestest.RouteLogin))
				require.Equal(t, expected.renews, srv.Calls(eldestest.RouteRenew))
			})
		}
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv)
	srv.FailNext(eldestest.RouteDevices, http.StatusBadGateway)

	_, err := cli.Devices(context.Background())
	require.ErrorIs(t, err, eldes.ErrTransient)
	require.NotErrorIs(t, err, eldes.ErrTimeout)
	require.Equal(t, 1, srv.Calls(eldestest.RouteDevices))
}

func TestOtherStatusIsNotRetried(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv)
	srv.FailNext(eldestest.RouteDevices, http.StatusNotFound)

	_, err := cli.Devices(context.Background())
	require.Error(t, err)
	require.Equal(t, eldes.KindUnknown, eldes.KindOf(err))
	require.Equal(t, 1, srv.Calls(eldestest.RouteDevices))
}

func TestTimeout(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv, eldes.WithTimeout(50*time.Millisecond))
	srv.Delay(eldestest.RouteDevices, time.Second)

	_, err := cli.Devices(context.Background())
	require.ErrorIs(t, err, eldes.ErrTimeout)
	require.Equal(t, eldes.KindTransient, eldes.KindOf(err))
}

func TestBreakerOpens(t *testing.T) {
	srv := eldestest.NewServer(t)
	cli := newLoggedIn(t, srv, eldes.WithBreaker(2, time.Minute))
	srv.FailNext(eldestest.RouteDevices, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	for range 2 {
		_, err := cli.Devices(context.Background())
		require.ErrorIs(t, err, eldes.ErrTransient)
	}

	_, err := cli.Devices(context.Background())
	require.ErrorIs(t, err, eldes.ErrTransient)
	require.Equal(t, 2, srv.Calls(eldestest.RouteDevices), "open breaker must not reach the server")
}

func TestDeviceData(t *testing.T) {
	srv := eldestest.NewServer(t)
	sample := eldestest.SampleDevice()
	srv.AddDevice("Home", sample)
	cli := newLoggedIn(t, srv)
	ctx := context.Background()

	info, err := cli.DeviceInfo(ctx, eldestest.IMEI)
	require.NoError(t, err)
	require.Equal(t, sample.Info, info)
	require.Equal(t, 80, info.SignalPercent())
	require.Equal(t, "OK", info.BatteryLabel())

	parts, err := cli.Partitions(ctx, eldestest.IMEI)
	require.NoError(t, err)
	require.Equal(t, sample.Partitions, parts)

	outputs, err := cli.Outputs(ctx, eldestest.IMEI)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	require.Equal(t, sample.Outputs[0], outputs[0])
	require.True(t, outputs[0].Actionable())
	require.False(t, outputs[1].Actionable())
	require.Equal(t, eldes.DefaultOutputIcon, outputs[1].Icon)

	temps, err := cli.Temperatures(ctx, eldestest.IMEI)
	require.NoError(t, err)
	require.Equal(t, sample.Temperatures, temps)

	events, err := cli.Events(ctx, eldestest.IMEI, 2)
	require.NoError(t, err)
	require.Equal(t, sample.Events[:2], events)
}

func TestEmptyLists(t *testing.T) {
	dev := eldestest.SampleDevice()
	dev.Partitions = nil
	dev.Outputs = nil
	dev.Temperatures = nil
	dev.Events = nil

	srv := eldestest.NewServer(t)
	srv.AddDevice("Home", dev)
	cli := newLoggedIn(t, srv)
	ctx := context.Background()

	parts, err := cli.Partitions(ctx, eldestest.IMEI)
	require.NoError(t, err)
	require.NotNil(t, parts)
	require.Empty(t, parts)

	events, err := cli.Events(ctx, eldestest.IMEI, 10)
	require.NoError(t, err)
	require.NotNil(t, events)
	require.Empty(t, events)
}

func TestCommands(t *testing.T) {
	srv := eldestest.NewServer(t)
	srv.AddDevice("Home", eldestest.SampleDevice())
	cli := newLoggedIn(t, srv)
	ctx := context.Background()

	require.NoError(t, cli.SetAlarm(ctx, eldes.ModeArmStay, eldestest.IMEI, 0))
	require.Equal(t, 1, srv.Calls(eldestest.RouteAction(eldes.ModeArmStay)))
	dev := srv.Device(eldestest.IMEI)
	require.Equal(t, eldes.StateArmedHome, dev.Partitions[0].State)

	require.NoError(t, cli.SetOutput(ctx, eldestest.IMEI, 7, true))
	require.Equal(t, 1, srv.Calls(eldestest.RouteOutput(eldestest.IMEI, 7, true)))
	dev = srv.Device(eldestest.IMEI)
	require.True(t, dev.Output(7).State)

	require.NoError(t, cli.SetOutput(ctx, eldestest.IMEI, 7, false))
	dev = srv.Device(eldestest.IMEI)
	require.False(t, dev.Output(7).State)
}

func TestCallRenewsExpiredSession(t *testing.T) {
	srv := eldestest.NewServer(t)
	now := time.Now()
	cli := newLoggedIn(t, srv, eldes.WithClock(func() time.Time { return now }))

	now = now.Add(5 * time.Minute)
	_, err := cli.Devices(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, srv.Calls(eldestest.RouteRenew))
	require.Equal(t, 1, srv.Calls(eldestest.RouteDevices))
}
