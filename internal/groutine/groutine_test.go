package groutine_test

import (
	"context"
	"testing"
	"time"

	"github.com/srg/blehelper/internal/groutine"
	"github.com/stretchr/testify/require"
)

func TestGoNamesGoroutineAndSignalsDone(t *testing.T) {
	var name string
	var gid uint64

	done := groutine.Go(nil, "worker-42", func(ctx context.Context) {
		name = groutine.GetName(ctx)
		gid = groutine.GetGID()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}

	require.Equal(t, "worker-42", name)
	require.NotZero(t, gid)
	require.NotEqual(t, groutine.GetGID(), gid, "worker MUST run on its own goroutine")
}

func TestGetNameWithoutName(t *testing.T) {
	require.Empty(t, groutine.GetName(context.Background()))
	require.Empty(t, groutine.GetName(nil)) //nolint:staticcheck
}
