// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"encoding/binary"
	"os"
	"sync"
	"syscall"
	"testing"

	"golang.org/x/net/context"

	"github.com/jacobsa/fuse/internal/fusekernel"
)

// newTestSession wires a Session to one end of a socketpair and returns the
// peer end (standing in for the kernel) so tests can inject request frames
// and read back the raw reply bytes Session writes.
func newTestSession(t *testing.T) (s *Session, conn *Connection, kernel *os.File) {
	t.Helper()

	conn, kernel = newTestConnection(t)
	s = newSession(MountConfig{}, conn, &NotImplementedFileSystem{})

	return s, conn, kernel
}

// --- beginOp / handleInterrupt unit tests -----------------------------

func TestBeginOp_NormalFlowTracksAndClearsBookkeeping(t *testing.T) {
	s, _, _ := newTestSession(t)

	ctx, dropped := s.beginOp(fusekernel.OpLookup, 7)
	if dropped {
		t.Fatalf("expected dropped == false")
	}
	if ctx == nil {
		t.Fatalf("expected a non-nil context")
	}

	s.mu.Lock()
	_, ok := s.cancelFuncs[7]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("expected unique 7 to be registered in cancelFuncs")
	}

	s.finishOp(fusekernel.OpLookup, 7, nil)

	s.mu.Lock()
	_, ok = s.cancelFuncs[7]
	s.mu.Unlock()
	if ok {
		t.Fatalf("expected unique 7 to be cleared from cancelFuncs after finishOp")
	}
}

func TestBeginOp_ForgetAndBatchForgetSkipBookkeeping(t *testing.T) {
	s, _, _ := newTestSession(t)

	for _, opcode := range []fusekernel.Opcode{fusekernel.OpForget, fusekernel.OpBatchForget} {
		_, dropped := s.beginOp(opcode, 99)
		if dropped {
			t.Fatalf("opcode %s: expected dropped == false", opcode)
		}

		s.mu.Lock()
		_, ok := s.cancelFuncs[99]
		s.mu.Unlock()
		if ok {
			t.Fatalf("opcode %s: expected no cancelFunc to be registered", opcode)
		}
	}
}

func TestHandleInterrupt_AfterDispatchCancelsContext(t *testing.T) {
	s, _, _ := newTestSession(t)

	ctx, dropped := s.beginOp(fusekernel.OpRead, 11)
	if dropped {
		t.Fatalf("expected dropped == false")
	}

	s.handleInterrupt(11)

	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected ctx to be canceled after handleInterrupt")
	}

	s.mu.Lock()
	_, stillInterrupted := s.interrupted[11]
	s.mu.Unlock()
	if stillInterrupted {
		t.Fatalf("expected the interrupted set to stay empty for a unique already in cancelFuncs")
	}

	s.finishOp(fusekernel.OpRead, 11, syscall.EINTR)
}

// TestHandleInterrupt_BeforeDispatchDropsRequest is Scenario S6: the kernel's
// INTERRUPT(unique=100) arrives and is processed before the dispatch
// goroutine for the request it names has reached beginOp. The interrupt must
// be remembered, and the later beginOp call for the same unique must report
// dropped == true rather than silently losing the interrupt.
func TestHandleInterrupt_BeforeDispatchDropsRequest(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.handleInterrupt(100)

	s.mu.Lock()
	_, recorded := s.interrupted[100]
	s.mu.Unlock()
	if !recorded {
		t.Fatalf("expected unique 100 to be recorded in the interrupted set")
	}

	ctx, dropped := s.beginOp(fusekernel.OpLookup, 100)
	if !dropped {
		t.Fatalf("expected dropped == true for a unique with an early interrupt")
	}

	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected the returned context to already be canceled")
	}

	s.mu.Lock()
	_, stillRecorded := s.interrupted[100]
	_, gotCancelFunc := s.cancelFuncs[100]
	s.mu.Unlock()
	if stillRecorded {
		t.Fatalf("expected the interrupted entry to be consumed by beginOp")
	}
	if gotCancelFunc {
		t.Fatalf("expected no cancelFunc to be installed for a dropped request")
	}

	// checkInvariants must not panic: interrupted and cancelFuncs share no key.
	s.checkInvariants()
}

func TestHandleInterrupt_UnknownUniqueIsRecorded(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.handleInterrupt(12345)

	s.mu.Lock()
	_, ok := s.interrupted[12345]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("expected the unmatched interrupt to be recorded for a later beginOp")
	}
}

// --- Dispatch-level, wire-exact scenarios -----------------------------

// TestDispatch_S1_EmptyErrorReply is Scenario S1: a request that fails with
// a plain errno produces an exact 16-byte OutHeader with no payload.
func TestDispatch_S1_EmptyErrorReply(t *testing.T) {
	s, conn, kernel := newTestSession(t)

	const unique = 42
	frame := encodeFrame(t, fusekernel.OpLookup, unique, 1, []byte("missing\x00"))
	inMsg := newInMessage(t, frame)

	if err := s.DispatchOn(nil, inMsg, conn); err != nil {
		t.Fatalf("DispatchOn: %v", err)
	}

	// NotImplementedFileSystem.LookUpInode reports ENOSYS.
	reply := readReply(t, kernel)
	want := []byte{
		0x10, 0x00, 0x00, 0x00, // Len = 16
		0x00, 0x00, 0x00, 0x00, // Error, filled in below
		0x2a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // Unique = 42
	}
	binary.LittleEndian.PutUint32(want[4:8], uint32(-int32(syscall.ENOSYS)))
	if string(reply) != string(want) {
		t.Fatalf("got % x, want % x", reply, want)
	}
}

// TestDispatch_S4_UnknownOpcodeRepliesENOSYS is Scenario S4: an opcode this
// module doesn't recognize is answered with ENOSYS rather than left
// unanswered or causing a panic.
func TestDispatch_S4_UnknownOpcodeRepliesENOSYS(t *testing.T) {
	s, conn, kernel := newTestSession(t)

	const unique = 7
	frame := encodeFrame(t, fusekernel.Opcode(9999), unique, 1, nil)
	inMsg := newInMessage(t, frame)

	if err := s.DispatchOn(nil, inMsg, conn); err != nil {
		t.Fatalf("DispatchOn: %v", err)
	}

	reply := readReply(t, kernel)
	if len(reply) != 16 {
		t.Fatalf("expected a 16-byte empty reply, got %d bytes", len(reply))
	}
	gotErr := int32(binary.LittleEndian.Uint32(reply[4:8]))
	if gotErr != -int32(syscall.ENOSYS) {
		t.Fatalf("expected -ENOSYS, got %d", gotErr)
	}
}

// TestDispatch_ReadERANGE exercises the size-bound property (Testable
// Property 7) for OpRead: a FileSystem that returns more data than the
// kernel asked for must be turned into ERANGE rather than an oversized
// reply.
func TestDispatch_ReadERANGE(t *testing.T) {
	s, conn, kernel := newTestSession(t)
	s.fs = &overreadingFileSystem{}

	in := fusekernel.ReadIn{Fh: 1, Offset: 0, Size: 4}
	frame := encodeFrame(t, fusekernel.OpRead, 9, 1, encodeStruct(t, in))
	inMsg := newInMessage(t, frame)

	if err := s.DispatchOn(nil, inMsg, conn); err != nil {
		t.Fatalf("DispatchOn: %v", err)
	}

	reply := readReply(t, kernel)
	gotErr := int32(binary.LittleEndian.Uint32(reply[4:8]))
	if gotErr != -int32(syscall.ERANGE) {
		t.Fatalf("expected -ERANGE, got %d", gotErr)
	}
}

type overreadingFileSystem struct {
	NotImplementedFileSystem
}

func (fs *overreadingFileSystem) ReadFile(ctx context.Context, req *ReadFileRequest) (*ReadFileResponse, error) {
	return &ReadFileResponse{Data: []byte("too many bytes for the request")}, nil
}

// TestDispatch_AtMostOneReplyPerUnique is Testable Property 4's
// at-most-one-reply half: concurrent Dispatch calls for distinct uniques
// each produce exactly one complete, non-interleaved frame.
func TestDispatch_AtMostOneReplyPerUnique(t *testing.T) {
	s, conn, kernel := newTestSession(t)

	const n = 20
	var wg sync.WaitGroup
	for i := uint64(0); i < n; i++ {
		wg.Add(1)
		go func(unique uint64) {
			defer wg.Done()
			frame := encodeFrame(t, fusekernel.OpLookup, unique, 1, []byte("x\x00"))
			inMsg := newInMessage(t, frame)
			if err := s.DispatchOn(nil, inMsg, conn); err != nil {
				t.Errorf("DispatchOn(%d): %v", unique, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		reply := readReply(t, kernel)
		if len(reply) != 16 {
			t.Fatalf("reply %d: expected 16 bytes, got %d (frame interleaving?)", i, len(reply))
		}
		unique := binary.LittleEndian.Uint64(reply[8:16])
		if seen[unique] {
			t.Fatalf("unique %d answered more than once", unique)
		}
		seen[unique] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct replies, got %d", n, len(seen))
	}
}
