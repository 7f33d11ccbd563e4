// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"encoding/binary"
	"testing"
	"time"

	"golang.org/x/net/context"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/internal/fusekernel"
)

// TestNotifierRetrieve_RoundTripsKernelReportedOffset is Testable Property
// 6: NOTIFY_REPLY(unique, off', data) yields (off', data) to the awaiter,
// even when off' differs from the offset Retrieve requested -- the kernel
// is free to answer with a different offset, and Retrieve must hand back
// the one the kernel actually reported rather than the one asked for.
func TestNotifierRetrieve_RoundTripsKernelReportedOffset(t *testing.T) {
	s, _, kernel := newTestSession(t)

	const requestedOffset = 100
	const reportedOffset = 64
	data := []byte("cached page contents")

	type result struct {
		offset uint64
		data   []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		off, d, err := s.notifier.Retrieve(context.Background(), fuseops.InodeID(1), requestedOffset, uint32(len(data)))
		done <- result{off, d, err}
	}()

	// Read the outbound NOTIFY_RETRIEVE frame to learn the NotifyUnique the
	// notifier minted for this call.
	frame := readReply(t, kernel)
	// frame layout: OutHeader{Len, Error, Unique} then NotifyRetrieveOut.
	notifyRetrieveOut := frame[16:]
	notifyUnique := binary.LittleEndian.Uint64(notifyRetrieveOut[0:8])

	replyPayload := encodeStruct(t, fusekernel.NotifyRetrieveIn{
		Offset: reportedOffset,
		Size:   uint32(len(data)),
	})
	replyPayload = append(replyPayload, data...)
	replyFrame := encodeFrame(t, fusekernel.OpNotifyReply, notifyUnique, 0, replyPayload)
	inMsg := newInMessage(t, replyFrame)

	s.HandleOutOfBand(inMsg)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Retrieve: %v", r.err)
		}
		if r.offset != reportedOffset {
			t.Fatalf("expected offset %d, got %d", reportedOffset, r.offset)
		}
		if string(r.data) != string(data) {
			t.Fatalf("expected data %q, got %q", data, r.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Retrieve never returned")
	}

	s.notifier.mu.Lock()
	_, stillPending := s.notifier.pending[notifyUnique]
	s.notifier.mu.Unlock()
	if stillPending {
		t.Fatalf("expected the pending entry to be cleared after delivery")
	}
}

// TestNotifierRetrieve_ContextCancellationCleansUpPending verifies that a
// canceled context stops Retrieve from blocking forever and removes its slot
// from the pending table, so a NOTIFY_REPLY that never arrives can't leak
// memory.
func TestNotifierRetrieve_ContextCancellationCleansUpPending(t *testing.T) {
	s, _, kernel := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.notifier.Retrieve(ctx, fuseops.InodeID(1), 0, 4)
	if err == nil {
		t.Fatalf("expected Retrieve to report the canceled context")
	}

	// Drain the NOTIFY_RETRIEVE frame the call still sent before blocking.
	readReply(t, kernel)

	s.notifier.mu.Lock()
	n := len(s.notifier.pending)
	s.notifier.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no pending entries after cancellation, got %d", n)
	}
}
