package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListenAndServe_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	err = listenAndServe(context.Background(), srv, testLogger(), nil)
	assert.Error(t, err)
}

func TestListenAndServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	drained := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- listenAndServe(ctx, &http.Server{Addr: addr, Handler: http.NotFoundHandler()}, testLogger(), func() { close(drained) })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("server did not shut down")
	}
	_, ok := <-drained
	assert.False(t, ok, "hook ran before shutdown")
}

func TestMazeCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"maze", "--room", "ABC123"})
	rootCmd.SetOut(io.Discard)
	assert.NoError(t, rootCmd.Execute())
}
