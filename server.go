// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// MountedFileSystem represents a FUSE file system mounted at a particular
// directory, served by a background goroutine. Callers wait on Join (or
// Close then Join) to learn the outcome of the mount's lifetime.
type MountedFileSystem struct {
	dir     string
	session *Session
	dev     *os.File

	// Additional endpoints opened per cfg.ConnectionDuplicates, each served
	// by its own reader goroutine in serveOn.
	dupConns []*Connection

	group  *errgroup.Group
	cancel context.CancelFunc

	joined chan struct{}
	err    error
}

// Dir returns the directory passed to Mount.
func (mfs *MountedFileSystem) Dir() string {
	return mfs.dir
}

// Join blocks until the serve loop has returned, then returns the error it
// exited with (nil on a clean unmount).
func (mfs *MountedFileSystem) Join(ctx context.Context) error {
	select {
	case <-mfs.joined:
		return mfs.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests that the mount be torn down by invoking fusermount -u and
// returns. The drain of in-flight ops (bounded by cfg.ShutdownTimeout, if
// set) happens in the serving goroutine; callers that need to wait for it,
// or for the final error, should call Join afterward.
func (mfs *MountedFileSystem) Close() error {
	return unmount(mfs.dir)
}

// Mount mounts fs at dir using fusermount(1), performs the INIT handshake,
// and begins serving requests from a background goroutine. The returned
// MountedFileSystem is usable as soon as Mount returns; call Join to wait
// for the mount to be torn down.
func Mount(dir string, fs FileSystem, cfg *MountConfig) (*MountedFileSystem, error) {
	if cfg == nil {
		cfg = &MountConfig{}
	}

	dev, err := mount(dir, cfg)
	if err != nil {
		return nil, fmt.Errorf("fuse: mounting %s: %w", dir, err)
	}

	conn := newConnection(cfg.DebugLogger, cfg.ErrorLogger, dev)
	session := newSession(*cfg, conn, fs)

	if err := session.Init(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("fuse: INIT handshake: %w", err)
	}

	dupConns := make([]*Connection, 0, cfg.ConnectionDuplicates)
	for i := 0; i < cfg.ConnectionDuplicates; i++ {
		dup, err := session.DuplicateConnection(cfg.UseCloneIoctlForDuplicates)
		if err != nil {
			for _, d := range dupConns {
				d.close()
			}
			dev.Close()
			return nil, fmt.Errorf("fuse: duplicating connection: %w", err)
		}
		dupConns = append(dupConns, dup)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	mfs := &MountedFileSystem{
		dir:      dir,
		session:  session,
		dev:      dev,
		dupConns: dupConns,
		group:    group,
		cancel:   cancel,
		joined:   make(chan struct{}),
	}

	go mfs.serve(ctx, cfg)
	for _, dup := range dupConns {
		go mfs.serveOn(ctx, dup)
	}

	return mfs, nil
}

// serve runs the single sequential reading goroutine, spawning one goroutine
// per ordinary request and handling Interrupt/NotifyReply inline, until
// ReadMessage reports the connection has gone away.
func (mfs *MountedFileSystem) serve(ctx context.Context, cfg *MountConfig) {
	defer close(mfs.joined)
	defer mfs.cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Ignore(syscall.SIGPIPE)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			unmount(mfs.dir)
		case <-ctx.Done():
		}
	}()

	var readErr error
	for {
		inMsg, err := mfs.session.ReadMessage()
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}

		if IsOutOfBand(uint32(inMsg.Header().Opcode)) {
			mfs.session.HandleOutOfBand(inMsg)
			continue
		}

		mfs.group.Go(func() error {
			return mfs.session.Dispatch(ctx, inMsg)
		})
	}

	waitErr := mfs.waitForDrain(cfg.ShutdownTimeout)
	mfs.session.Close()
	for _, dup := range mfs.dupConns {
		dup.close()
	}

	mfs.err = readErr
	if mfs.err == nil {
		mfs.err = waitErr
	}
}

// serveOn runs a reader loop for a duplicated endpoint, dispatching each
// request's reply back onto conn rather than the primary. It runs until
// ReadMessageFrom reports conn has gone away, which happens when the
// primary serve loop closes every duplicate during its own shutdown.
func (mfs *MountedFileSystem) serveOn(ctx context.Context, conn *Connection) {
	for {
		inMsg, err := mfs.session.ReadMessageFrom(conn)
		if err != nil {
			return
		}

		if IsOutOfBand(uint32(inMsg.Header().Opcode)) {
			mfs.session.HandleOutOfBand(inMsg)
			continue
		}

		mfs.group.Go(func() error {
			return mfs.session.DispatchOn(ctx, inMsg, conn)
		})
	}
}

// waitForDrain waits for in-flight dispatch goroutines to finish replying,
// up to timeout (zero means wait forever). If the timeout elapses first,
// any still-running goroutines are simply no longer awaited; their replies,
// if they arrive, land on an already-closed device and are discarded.
func (mfs *MountedFileSystem) waitForDrain(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- mfs.group.Wait() }()

	if timeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return nil
	}
}
