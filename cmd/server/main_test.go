package main

import (
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownReportsMonitorCloseError(t *testing.T) {
	finalize := errors.New("finalize recording: disk full")
	closed := false
	monitor := closerFunc(func() error {
		closed = true
		return finalize
	})

	err := shutdown(monitor, []*http.Server{{Addr: "127.0.0.1:0"}}, time.Second)
	assert.True(t, closed)
	assert.ErrorIs(t, err, finalize)
}

func TestShutdownStopsServers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hs := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- hs.Serve(ln) }()

	require.NoError(t, shutdown(closerFunc(func() error { return nil }), []*http.Server{hs}, time.Second))
	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server still serving after shutdown")
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, splitList(" stun:a:1, ,stun:b:2 "))
	assert.Nil(t, splitList(""))
}
