// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"encoding/binary"
	"os"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse/internal/fusekernel"
)

// writeInitRequest writes a raw INIT frame to kernel, as if the kernel had
// just opened /dev/fuse and begun the handshake.
func writeInitRequest(t *testing.T, kernel *os.File, major, minor uint32) {
	t.Helper()

	in := fusekernel.InitIn{Major: major, Minor: minor, MaxReadahead: 1 << 16}
	frame := encodeFrame(t, fusekernel.OpInit, 1, 0, encodeStruct(t, in))
	if _, err := kernel.Write(frame); err != nil {
		t.Fatalf("writing INIT request: %v", err)
	}
}

// TestInit_RejectsProtocolOlderThanMinimum is one arm of Scenario S5: a
// kernel offering a protocol version below ProtoVersionMin{Major,Minor}
// gets EPROTO rather than a negotiated version.
func TestInit_RejectsProtocolOlderThanMinimum(t *testing.T) {
	conn, kernel := newTestConnection(t)
	s := newSession(MountConfig{}, conn, &NotImplementedFileSystem{})

	writeInitRequest(t, kernel, 6, 0)

	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	reply := readReply(t, kernel)
	if len(reply) != 16 {
		t.Fatalf("expected a bare 16-byte header, got %d bytes", len(reply))
	}
	gotErr := int32(binary.LittleEndian.Uint32(reply[4:8]))
	if gotErr != -int32(syscall.EPROTO) {
		t.Fatalf("expected -EPROTO, got %d", gotErr)
	}
}

// TestInit_NegotiatesWithinSupportedRange is the second arm of Scenario S5:
// a kernel offering exactly the maximum supported version is accepted
// unchanged.
func TestInit_NegotiatesWithinSupportedRange(t *testing.T) {
	conn, kernel := newTestConnection(t)
	s := newSession(MountConfig{}, conn, &NotImplementedFileSystem{})

	writeInitRequest(t, kernel, fusekernel.ProtoVersionMaxMajor, fusekernel.ProtoVersionMaxMinor)

	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	reply := readReply(t, kernel)
	gotErr := int32(binary.LittleEndian.Uint32(reply[4:8]))
	if gotErr != 0 {
		t.Fatalf("expected a successful reply, got error %d", gotErr)
	}

	out := reply[16:]
	gotMajor := binary.LittleEndian.Uint32(out[0:4])
	gotMinor := binary.LittleEndian.Uint32(out[4:8])
	if gotMajor != fusekernel.ProtoVersionMaxMajor || gotMinor != fusekernel.ProtoVersionMaxMinor {
		t.Fatalf("expected %d.%d, got %d.%d", fusekernel.ProtoVersionMaxMajor, fusekernel.ProtoVersionMaxMinor, gotMajor, gotMinor)
	}
	if s.protocol.Major != fusekernel.ProtoVersionMaxMajor || s.protocol.Minor != fusekernel.ProtoVersionMaxMinor {
		t.Fatalf("expected negotiated protocol %d.%d, got %v", fusekernel.ProtoVersionMaxMajor, fusekernel.ProtoVersionMaxMinor, s.protocol)
	}
}

// TestInit_ClampsToMaxSupportedWhenKernelIsNewer is the third arm of
// Scenario S5: a kernel offering a version newer than this module supports
// is answered with the module's own maximum, not the kernel's.
func TestInit_ClampsToMaxSupportedWhenKernelIsNewer(t *testing.T) {
	conn, kernel := newTestConnection(t)
	s := newSession(MountConfig{}, conn, &NotImplementedFileSystem{})

	writeInitRequest(t, kernel, fusekernel.ProtoVersionMaxMajor+1, 0)

	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	reply := readReply(t, kernel)
	out := reply[16:]
	gotMajor := binary.LittleEndian.Uint32(out[0:4])
	gotMinor := binary.LittleEndian.Uint32(out[4:8])
	if gotMajor != fusekernel.ProtoVersionMaxMajor || gotMinor != fusekernel.ProtoVersionMaxMinor {
		t.Fatalf("expected clamped %d.%d, got %d.%d", fusekernel.ProtoVersionMaxMajor, fusekernel.ProtoVersionMaxMinor, gotMajor, gotMinor)
	}
}
