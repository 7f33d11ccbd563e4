// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/fuse/internal/buffer"
	"github.com/jacobsa/fuse/internal/fusekernel"
)

// newTestConnection returns a Connection backed by one end of a unix domain
// socketpair, the same full-duplex transport mount_linux.go uses for the
// fusermount comm fd. The returned *os.File is the other end, standing in
// for the kernel: tests write requests to it and read replies from it.
func newTestConnection(t *testing.T) (*Connection, *os.File) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}

	dev := os.NewFile(uintptr(fds[0]), "fuse-test-session")
	kernel := os.NewFile(uintptr(fds[1]), "fuse-test-kernel")

	conn := newConnection(nil, nil, dev)

	t.Cleanup(func() {
		dev.Close()
		kernel.Close()
	})

	return conn, kernel
}

// encodeFrame lays out a complete inbound FUSE frame: the InHeader followed
// by payload, with Len set to the total size.
func encodeFrame(t *testing.T, opcode fusekernel.Opcode, unique uint64, nodeid uint64, payload []byte) []byte {
	t.Helper()

	h := fusekernel.InHeader{
		Len:    uint32(int(unsafe.Sizeof(fusekernel.InHeader{})) + len(payload)),
		Opcode: opcode,
		Unique: unique,
		Nodeid: nodeid,
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		t.Fatalf("encoding InHeader: %v", err)
	}
	buf.Write(payload)

	return buf.Bytes()
}

// encodeStruct is a small helper for building fixed-size payload structs
// (ReadIn, InterruptIn, NotifyRetrieveIn, ...) in wire order.
func encodeStruct(t *testing.T, v interface{}) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("encoding %T: %v", v, err)
	}
	return buf.Bytes()
}

// newInMessage builds a *buffer.InMessage from a raw frame the way
// Connection.readMessage does, minus the actual device read: Init is fed a
// bytes.Reader, which (for a frame smaller than InMessage's fixed storage)
// always satisfies Init's single-Read-returns-one-frame assumption.
func newInMessage(t *testing.T, frame []byte) *buffer.InMessage {
	t.Helper()

	m := new(buffer.InMessage)
	if err := m.Init(bytes.NewReader(frame)); err != nil {
		t.Fatalf("InMessage.Init: %v", err)
	}
	return m
}

// readReply reads exactly one frame's worth of bytes back from kernel, sized
// by the OutHeader.Len prefix, and returns it whole.
func readReply(t *testing.T, kernel *os.File) []byte {
	t.Helper()

	var lenBuf [4]byte
	if _, err := readFull(kernel, lenBuf[:]); err != nil {
		t.Fatalf("reading reply length prefix: %v", err)
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	rest := make([]byte, n-4)
	if _, err := readFull(kernel, rest); err != nil {
		t.Fatalf("reading reply body: %v", err)
	}

	return append(lenBuf[:], rest...)
}

func readFull(f *os.File, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := f.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
