package main

import (
	"context"
	"errors"
	"testing"

	eldes "github.com/caarlos0/homekit-eldes"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	t.Run("stops the process on error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		boom := errors.New("boom")
		wait := poll(ctx, cancel, func(context.Context) error { return boom })
		require.ErrorIs(t, wait(), boom)
		require.Error(t, ctx.Err())
	})

	t.Run("returns once cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wait := poll(ctx, cancel, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		cancel()
		require.NoError(t, wait())
	})
}

func TestPermanentOnAuth(t *testing.T) {
	require.NoError(t, permanentOnAuth(nil))

	transient := errors.New("timeout")
	require.Equal(t, transient, permanentOnAuth(transient))

	auth := &eldes.Error{Kind: eldes.KindAuthentication, Op: "login", StatusCode: 401}
	err := permanentOnAuth(auth)
	require.ErrorIs(t, err, eldes.ErrAuthentication)
	require.NotEqual(t, auth, err)
}
