package shutdown

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClose_RunsInOrder(t *testing.T) {
	gs := NewGracefulShutdown(context.Background(), time.Second, logrus.New())

	var calls []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			calls = append(calls, name)
			return nil
		}
	}
	gs.Register("cleanup", record("cleanup"), OrderCleanup)
	gs.Register("journal", record("journal"), OrderCloseJournal)
	gs.Register("rpc", record("rpc"), OrderCloseConnection)

	assert.Equal(t, []string{"journal", "rpc", "cleanup"}, gs.Registered())

	require.NoError(t, gs.Close())
	assert.Equal(t, []string{"journal", "rpc", "cleanup"}, calls)
	assert.Error(t, gs.Context().Err())

	// 重复关闭不再执行
	require.NoError(t, gs.Close())
	assert.Len(t, calls, 3)
}

func TestClose_CollectsErrors(t *testing.T) {
	gs := NewGracefulShutdown(context.Background(), time.Second, logrus.New())

	boom := errors.New("boom")
	ran := false
	gs.Register("journal", func(context.Context) error { return boom }, OrderCloseJournal)
	gs.Register("rpc", func(context.Context) error { ran = true; return nil }, OrderCloseConnection)

	err := gs.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "journal")
	assert.True(t, ran)
}

func TestSignal_CancelsContext(t *testing.T) {
	gs := NewGracefulShutdown(context.Background(), time.Second, logrus.New())
	defer gs.Close()

	gs.Start()
	gs.signalChan <- syscall.SIGINT

	select {
	case <-gs.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("收到信号后上下文未被取消")
	}
	assert.Equal(t, syscall.SIGINT, gs.Signaled())
}

func TestParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	gs := NewGracefulShutdown(parent, 0, logrus.New())
	defer gs.Close()

	cancel()
	assert.ErrorIs(t, gs.Context().Err(), context.Canceled)
	assert.Nil(t, gs.Signaled())
}
