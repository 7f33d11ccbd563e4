// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"encoding/binary"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse/internal/buffer"
)

func TestSendReplyOn_Success(t *testing.T) {
	_, conn, kernel := newTestSession(t)

	outMsg := new(buffer.OutMessage)
	outMsg.Reset()
	outMsg.AppendString("payload")

	if err := (&Session{}).sendReplyOn(outMsg, 55, nil, conn); err != nil {
		t.Fatalf("sendReplyOn: %v", err)
	}

	reply := readReply(t, kernel)
	if len(reply) != 16+len("payload") {
		t.Fatalf("expected %d bytes, got %d", 16+len("payload"), len(reply))
	}

	gotErr := int32(binary.LittleEndian.Uint32(reply[4:8]))
	if gotErr != 0 {
		t.Fatalf("expected Error == 0, got %d", gotErr)
	}
	gotUnique := binary.LittleEndian.Uint64(reply[8:16])
	if gotUnique != 55 {
		t.Fatalf("expected Unique == 55, got %d", gotUnique)
	}
	if string(reply[16:]) != "payload" {
		t.Fatalf("expected payload %q, got %q", "payload", reply[16:])
	}
}

// TestSendReplyOn_ErrorDiscardsPayload verifies that a reply written with a
// non-nil opErr drops any payload the caller had already appended: the
// kernel expects an error reply to be exactly the bare OutHeader.
func TestSendReplyOn_ErrorDiscardsPayload(t *testing.T) {
	_, conn, kernel := newTestSession(t)

	outMsg := new(buffer.OutMessage)
	outMsg.Reset()
	outMsg.AppendString("should not be sent")

	if err := (&Session{}).sendReplyOn(outMsg, 56, syscall.ENOENT, conn); err != nil {
		t.Fatalf("sendReplyOn: %v", err)
	}

	reply := readReply(t, kernel)
	if len(reply) != 16 {
		t.Fatalf("expected a bare 16-byte header, got %d bytes", len(reply))
	}

	gotErr := int32(binary.LittleEndian.Uint32(reply[4:8]))
	if gotErr != -int32(syscall.ENOENT) {
		t.Fatalf("expected -ENOENT, got %d", gotErr)
	}
}

// TestSendReply_DefaultsToPrimaryConnection verifies sendReply (as opposed to
// sendReplyOn) writes to the Session's own primary conn.
func TestSendReply_DefaultsToPrimaryConnection(t *testing.T) {
	s, _, kernel := newTestSession(t)

	outMsg := new(buffer.OutMessage)
	outMsg.Reset()

	if err := s.sendReply(outMsg, 1, nil); err != nil {
		t.Fatalf("sendReply: %v", err)
	}

	reply := readReply(t, kernel)
	if len(reply) != 16 {
		t.Fatalf("expected a bare 16-byte header, got %d bytes", len(reply))
	}
}
