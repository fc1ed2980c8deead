package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	closeLogged(logger, "kafka source", closerFunc(func() error { return nil }))
	assert.Empty(t, logs.String())

	closeLogged(logger, "kafka source", closerFunc(func() error { return errors.New("broker gone") }))
	assert.Contains(t, logs.String(), `msg="close kafka source"`)
	assert.Contains(t, logs.String(), `err="broker gone"`)
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestCloseLogged_ClosesSink(t *testing.T) {
	var logs bytes.Buffer
	sink := &recordingSink{}

	closeLogged(slog.New(slog.NewTextHandler(&logs, nil)), "sink", sink)

	assert.True(t, sink.closed)
	assert.Empty(t, logs.String())
}

func TestRunServer_StopsOnSignal(t *testing.T) {
	// keep SIGINT from terminating the test binary before the server listens
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGINT)
	defer signal.Stop(guard)

	var logs bytes.Buffer
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() {
		done <- runServer(context.Background(), cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	}()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(5 * time.Second)

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Contains(t, logs.String(), "shutdown complete")
			return
		case <-tick.C:
			require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
		case <-deadline:
			t.Fatal("server did not stop on SIGINT")
		}
	}
}
