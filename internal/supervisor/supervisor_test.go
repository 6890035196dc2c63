// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/driftwatch/internal/logging"
)

// tickService counts Serve invocations and blocks until canceled.
type tickService struct {
	starts atomic.Int64
}

func (s *tickService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *tickService) String() string { return "tick" }

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	svc := &tickService{}
	tree.AddStorageService(svc)
	tree.AddAlertingService(&tickService{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	assert.Eventually(t, func() bool { return svc.starts.Load() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	unstopped, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, unstopped)
}

// crashingService fails a few times before settling.
type crashingService struct {
	starts atomic.Int64
}

func (s *crashingService) Serve(ctx context.Context) error {
	if s.starts.Add(1) < 3 {
		return errors.New("induced crash")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *crashingService) String() string { return "crasher" }

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(logging.NewSlogLogger(), cfg)

	svc := &crashingService{}
	tree.AddAlertingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	assert.Eventually(t, func() bool { return svc.starts.Load() >= 3 },
		5*time.Second, 10*time.Millisecond, "service is restarted after crashes")
}

// stubServer implements HTTPServer without binding a socket.
type stubServer struct {
	shutdown  atomic.Bool
	releaseCh chan struct{}
}

func newStubServer() *stubServer {
	return &stubServer{releaseCh: make(chan struct{})}
}

func (s *stubServer) ListenAndServe() error {
	<-s.releaseCh
	return nil
}

func (s *stubServer) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	close(s.releaseCh)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newStubServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, srv.shutdown.Load())
}
