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
	"bytes"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/net/context"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/fuse/internal/buffer"
	"github.com/jacobsa/fuse/internal/fusekernel"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/syncutil"
)

// Ask the Linux kernel for larger read requests.
//
// As of 2015-03-26, the behavior in the kernel is:
//
//   - Set the local variable ra_pages to be init_response->max_readahead
//     divided by the page size.
//
//   - Set backing_dev_info::ra_pages to the min of that value and what was
//     sent in the request's max_readahead field.
//
//   - Use backing_dev_info::ra_pages when deciding how much to read ahead.
//
//   - Don't read ahead at all if that field is zero.
//
// Reading a page at a time is a drag. Ask for a larger size.
const maxReadahead = 1 << 20

// Session understands the FUSE wire protocol carried over a Connection: it
// negotiates the INIT handshake, decodes each request, calls the
// corresponding FileSystem method, encodes the response, and correlates
// Interrupt and NotifyReply messages with the requests they refer to.
type Session struct {
	cfg  MountConfig
	conn *Connection
	fs   FileSystem

	protocol fusekernel.Protocol

	mu syncutil.InvariantMutex

	// A map from fuse "unique" request ID to a function that cancels the
	// context passed to the in-flight FileSystem call for that request.
	// Forget and BatchForget never populate this map: they have no reply, so
	// nothing ever needs to cancel them, and the kernel may otherwise reuse
	// their unique IDs before a cancel func would be cleaned up.
	//
	// INVARIANT: cancelFuncs and reports have the same key set.
	//
	// GUARDED_BY(mu)
	cancelFuncs map[uint64]func()

	// The reqtrace span report func for each in-flight op in cancelFuncs,
	// keyed the same way.
	//
	// GUARDED_BY(mu)
	reports map[uint64]reqtrace.ReportFunc

	// The set of unique IDs for which an Interrupt arrived before (or while)
	// beginOp was registering the target request's cancelFunc. beginOp
	// consults this set and, finding its own unique present, removes the
	// entry and tells the caller to drop the request rather than dispatch it.
	//
	// INVARIANT: interrupted and cancelFuncs never share a key; a unique is
	// in at most one of the two at a time.
	//
	// GUARDED_BY(mu)
	interrupted map[uint64]struct{}

	// The highest unique ID beginOp has ever seen dispatched for an
	// interruptible opcode. The kernel assigns unique IDs in strictly
	// increasing order, so an Interrupt naming a unique at or below this
	// watermark can only be a late arrival for a request that has already
	// been replied to (the ordinary, non-racy case fuse.txt describes); only
	// a unique above it can still be waiting at beginOp, so only those are
	// worth remembering in interrupted.
	//
	// GUARDED_BY(mu)
	maxDispatchedUnique uint64

	notifier *Notifier
}

func (s *Session) checkInvariants() {
	if len(s.cancelFuncs) != len(s.reports) {
		panic("cancelFuncs and reports have diverged")
	}
	for unique := range s.interrupted {
		if _, ok := s.cancelFuncs[unique]; ok {
			panic("unique is in both interrupted and cancelFuncs")
		}
	}
}

func newSession(cfg MountConfig, conn *Connection, fs FileSystem) *Session {
	s := &Session{
		cfg:         cfg,
		conn:        conn,
		fs:          fs,
		cancelFuncs: make(map[uint64]func()),
		reports:     make(map[uint64]reqtrace.ReportFunc),
		interrupted: make(map[uint64]struct{}),
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	s.notifier = newNotifier(s)
	return s
}

// Init performs the INIT handshake described in the Linux kernel's
// fuse.txt: read the kernel's InitIn, negotiate a protocol version no newer
// than both sides support, choose capability flags from the MountConfig,
// and reply with the result. Of the flags, only symlink caching and
// no-open/no-opendir support are checked against the kernel's offer. It
// must be the first exchange on the connection.
func (s *Session) Init() error {
	inMsg, err := s.conn.readMessage()
	if err != nil {
		return fmt.Errorf("reading init request: %w", err)
	}
	defer s.conn.messages.PutInMessage(inMsg)

	h := inMsg.Header()
	if h.Opcode != fusekernel.OpInit {
		return fmt.Errorf("expected INIT, got opcode %d", h.Opcode)
	}

	inPtr := inMsg.Consume(unsafe.Sizeof(fusekernel.InitIn{}))
	if inPtr == nil {
		return fmt.Errorf("INIT request too short")
	}
	in := (*fusekernel.InitIn)(inPtr)

	kernel := fusekernel.Protocol{Major: in.Major, Minor: in.Minor}

	min := fusekernel.Protocol{
		Major: fusekernel.ProtoVersionMinMajor,
		Minor: fusekernel.ProtoVersionMinMinor,
	}

	outMsg := s.conn.messages.GetOutMessage()
	defer s.conn.messages.PutOutMessage(outMsg)

	if kernel.LT(min) {
		return s.sendReply(outMsg, h.Unique, syscall.EPROTO)
	}

	s.protocol = fusekernel.Protocol{
		Major: fusekernel.ProtoVersionMaxMajor,
		Minor: fusekernel.ProtoVersionMaxMinor,
	}
	if kernel.LT(s.protocol) {
		s.protocol = kernel
	}

	kernelFlags := fusekernel.InitFlags(in.Flags)
	cacheSymlinks := kernelFlags&fusekernel.InitCacheSymlinks != 0
	noOpenSupport := kernelFlags&fusekernel.InitNoOpenSupport != 0
	noOpendirSupport := kernelFlags&fusekernel.InitNoOpendirSupport != 0

	var flags fusekernel.InitFlags
	flags |= fusekernel.InitBigWrites
	flags |= fusekernel.InitMaxPages

	if s.cfg.EnableAsyncReads {
		flags |= fusekernel.InitAsyncRead
	}
	if !s.cfg.DisableWritebackCaching {
		flags |= fusekernel.InitWritebackCache
	}
	if s.cfg.EnableSymlinkCaching && cacheSymlinks {
		flags |= fusekernel.InitCacheSymlinks
	}
	if s.cfg.EnableNoOpenSupport && noOpenSupport {
		flags |= fusekernel.InitNoOpenSupport
	}
	if s.cfg.EnableNoOpendirSupport && noOpendirSupport {
		flags |= fusekernel.InitNoOpendirSupport
	}
	if s.cfg.EnableParallelDirOps {
		flags |= fusekernel.InitParallelDirOps
	}
	if s.cfg.EnableAtomicTrunc {
		flags |= fusekernel.InitAtomicTrunc
	}
	if s.cfg.EnableReaddirplus {
		flags |= fusekernel.InitDoReaddirplus
		if s.cfg.EnableAutoReaddirplus {
			flags |= fusekernel.InitReaddirplusAuto
		}
	}

	outPtr := outMsg.Grow(int(unsafe.Sizeof(fusekernel.InitOut{})))
	out := (*fusekernel.InitOut)(outPtr)
	*out = fusekernel.InitOut{
		Major:         s.protocol.Major,
		Minor:         s.protocol.Minor,
		MaxReadahead:  maxReadahead,
		Flags:         uint32(flags),
		MaxWrite:      buffer.MaxReadSize - 4096,
		MaxPages:      256,
		CongestionThreshold: 0,
		MaxBackground: 0,
		TimeGran:      1,
	}

	req := &InitRequest{Header: RequestHeader{}}
	if _, err := s.fs.Init(s.opContext(), req); err != nil {
		return s.sendReply(outMsg, h.Unique, err)
	}

	return s.sendReply(outMsg, h.Unique, nil)
}

func (s *Session) opContext() context.Context {
	if s.cfg.OpContext != nil {
		return s.cfg.OpContext
	}
	return context.Background()
}

// Close releases the FileSystem and the underlying connection, in that
// order.
func (s *Session) Close() error {
	s.fs.Destroy()
	return s.conn.close()
}

////////////////////////////////////////////////////////////////////////
// Read loop plumbing
////////////////////////////////////////////////////////////////////////

// ReadMessage reads the next raw frame from the kernel on the session's
// primary endpoint. It must be called from a single goroutine at a time; the
// resulting message may then be dispatched concurrently.
func (s *Session) ReadMessage() (*buffer.InMessage, error) {
	return s.conn.readMessage()
}

// ReadMessageFrom is ReadMessage against an explicit endpoint, for use by a
// reader loop serving a Connection obtained via DuplicateConnection. Each
// duplicated endpoint must be read from a single goroutine at a time, the
// same as the primary.
func (s *Session) ReadMessageFrom(conn *Connection) (*buffer.InMessage, error) {
	return conn.readMessage()
}

// DuplicateConnection returns a second endpoint bound to the same FUSE
// session, per fuse.txt's FUSE_DEV_IOC_CLONE / dup(2) mechanism: a caller
// that wants additional parallelism in its read loop can run one reader
// goroutine per duplicated endpoint, each feeding requests to Dispatch.
// Interrupt and NotifyReply correlation is tracked on the Session, not on
// any one Connection, so it works the same regardless of which endpoint a
// request or notification reply arrives on.
func (s *Session) DuplicateConnection(useCloneIoctl bool) (*Connection, error) {
	return s.conn.duplicate(useCloneIoctl)
}

// IsOutOfBand reports whether opcode must be handled inline on the reading
// goroutine rather than dispatched to a worker: Interrupt must take effect
// before the request it names can complete, and NotifyReply must be
// delivered to the goroutine blocked in Notifier.Retrieve before that call
// can return.
func IsOutOfBand(opcode uint32) bool {
	switch fusekernel.Opcode(opcode) {
	case fusekernel.OpInterrupt, fusekernel.OpNotifyReply:
		return true
	}
	return false
}

// HandleOutOfBand handles an Interrupt or NotifyReply message inline. It
// must only be called for opcodes for which IsOutOfBand returns true.
func (s *Session) HandleOutOfBand(inMsg *buffer.InMessage) {
	defer s.conn.messages.PutInMessage(inMsg)

	switch inMsg.Header().Opcode {
	case fusekernel.OpInterrupt:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.InterruptIn{}))
		if p == nil {
			return
		}
		in := (*fusekernel.InterruptIn)(p)
		s.handleInterrupt(in.Unique)

	case fusekernel.OpNotifyReply:
		s.notifier.handleReply(inMsg)
	}
}

// beginOp sets up a cancellable context for a request about to be
// dispatched, keyed by its fuse unique ID so a later Interrupt can find it.
// It also checks whether an Interrupt for this unique already arrived before
// dispatch began; if so it reports dropped == true and the caller must not
// dispatch the request or send any reply for it.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Session) beginOp(opcode fusekernel.Opcode, unique uint64) (ctx context.Context, dropped bool) {
	ctx = s.opContext()

	if opcode == fusekernel.OpForget || opcode == fusekernel.OpBatchForget {
		return ctx, false
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx, report := reqtrace.StartSpan(ctx, opcode.String())

	s.mu.Lock()
	if unique > s.maxDispatchedUnique {
		s.maxDispatchedUnique = unique
	}
	if _, ok := s.interrupted[unique]; ok {
		delete(s.interrupted, unique)
		s.mu.Unlock()
		cancel()
		return ctx, true
	}
	s.cancelFuncs[unique] = cancel
	s.reports[unique] = report
	s.mu.Unlock()

	return ctx, false
}

// finishOp releases the bookkeeping set up by beginOp and closes out its
// trace span with opErr. It must be called before the reply for the op is
// written, so that a racing Interrupt for the same (by-then-reused) unique
// ID can never be mistaken for this op.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Session) finishOp(opcode fusekernel.Opcode, unique uint64, opErr error) {
	if opcode == fusekernel.OpForget || opcode == fusekernel.OpBatchForget {
		return
	}

	s.mu.Lock()
	cancel, ok := s.cancelFuncs[unique]
	delete(s.cancelFuncs, unique)
	report, reportOk := s.reports[unique]
	delete(s.reports, unique)
	s.mu.Unlock()

	if ok {
		cancel()
	}
	if reportOk {
		report(opErr)
	}
}

// handleInterrupt cancels the context of the in-flight request named by
// unique, if it's already in flight. The kernel may deliver Interrupt
// before the dispatch goroutine for the request it names has reached
// beginOp; in that case there is no cancelFunc yet, so the unique is
// recorded in the interrupted set instead, and beginOp will find it there
// and drop the request without dispatching it or replying. A unique at or
// below maxDispatchedUnique can't be a pre-dispatch race (uniques only
// increase), so it's simply a late Interrupt for an already-replied
// request and is dropped without being remembered, keeping interrupted
// from growing unboundedly over a session's lifetime.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Session) handleInterrupt(unique uint64) {
	s.mu.Lock()
	cancel, ok := s.cancelFuncs[unique]
	if !ok && unique > s.maxDispatchedUnique {
		s.interrupted[unique] = struct{}{}
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

////////////////////////////////////////////////////////////////////////
// Dispatch
////////////////////////////////////////////////////////////////////////

// shouldLogError suppresses log noise for errors that are a normal part of
// the protocol rather than a sign of trouble.
func shouldLogError(opcode fusekernel.Opcode, err error) bool {
	if err == nil {
		return false
	}

	switch opcode {
	case fusekernel.OpLookup:
		if err == syscall.ENOENT {
			return false
		}
	case fusekernel.OpGetxattr, fusekernel.OpListxattr:
		switch err {
		case syscall.ENOSYS, syscall.ENODATA, syscall.ERANGE:
			return false
		}
	}

	if err == syscall.ENOSYS {
		return false
	}

	return true
}

// consumeRemainder returns every byte left in inMsg's payload without regard
// to structure; used for the NUL-terminated name(s) that follow many fixed
// argument structs.
func consumeRemainder(inMsg *buffer.InMessage) []byte {
	n := inMsg.Len()
	if n == 0 {
		return nil
	}
	return inMsg.ConsumeBytes(uintptr(n))
}

// consumeName consumes the rest of the message as a single NUL-terminated
// name.
func consumeName(inMsg *buffer.InMessage) string {
	b := consumeRemainder(inMsg)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// consumeTwoNames consumes the rest of the message as two consecutive
// NUL-terminated names, as used by Rename, Rename2 and Symlink.
func consumeTwoNames(inMsg *buffer.InMessage) (a, b string) {
	buf := consumeRemainder(inMsg)
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return string(buf), ""
	}
	a = string(buf[:i])
	rest := buf[i+1:]
	if j := bytes.IndexByte(rest, 0); j >= 0 {
		rest = rest[:j]
	}
	b = string(rest)
	return
}

func header(h *fusekernel.InHeader) RequestHeader {
	return RequestHeader{Uid: h.Uid, Gid: h.Gid, Pid: h.Pid}
}

// Dispatch decodes a single ordinary (non-out-of-band) request read from the
// session's primary endpoint, invokes the matching FileSystem method, and
// writes the reply back to that same endpoint. It may safely be run
// concurrently with other calls to Dispatch/DispatchOn and with ReadMessage.
func (s *Session) Dispatch(ctx context.Context, inMsg *buffer.InMessage) error {
	return s.DispatchOn(ctx, inMsg, s.conn)
}

// DispatchOn is Dispatch against an explicit endpoint: inMsg must have been
// read from conn (e.g. via ReadMessageFrom(conn)), and the reply, if any, is
// written back to conn. This is what lets a duplicated endpoint's reader
// loop reply on its own connection rather than contending with the primary.
func (s *Session) DispatchOn(ctx context.Context, inMsg *buffer.InMessage, conn *Connection) error {
	h := inMsg.Header()
	unique := h.Unique
	opcode := h.Opcode

	ctx, dropped := s.beginOp(opcode, unique)
	if dropped {
		if conn.debugLogger != nil {
			conn.debugLog(unique, 2, "<- opcode %s (dropped, already interrupted)", opcode)
		}
		conn.messages.PutInMessage(inMsg)
		return nil
	}

	if conn.debugLogger != nil {
		conn.debugLog(unique, 2, "<- opcode %s", opcode)
	}

	outMsg := conn.messages.GetOutMessage()
	defer conn.messages.PutOutMessage(outMsg)

	err := s.dispatch(ctx, inMsg, outMsg, opcode, unique)

	s.finishOp(opcode, unique, err)
	conn.messages.PutInMessage(inMsg)

	if shouldLogError(opcode, err) {
		conn.errorLog("Op 0x%08x opcode %s] -> error: %v", unique, opcode, err)
	} else if conn.debugLogger != nil && err != nil {
		conn.debugLog(unique, 2, "-> error: %v", err)
	}

	// Forget and BatchForget have no reply.
	if opcode == fusekernel.OpForget || opcode == fusekernel.OpBatchForget {
		return nil
	}

	return s.sendReplyOn(outMsg, unique, err, conn)
}

func (s *Session) dispatch(
	ctx context.Context,
	inMsg *buffer.InMessage,
	outMsg *buffer.OutMessage,
	opcode fusekernel.Opcode,
	unique uint64) error {
	h := inMsg.Header()
	inode := fuseops.InodeID(h.Nodeid)
	reqHeader := header(h)

	switch opcode {
	case fusekernel.OpLookup:
		name := consumeName(inMsg)
		resp, err := s.fs.LookUpInode(ctx, &LookUpInodeRequest{Header: reqHeader, Parent: inode, Name: name})
		if err != nil {
			return err
		}
		appendEntryOut(outMsg, s.protocol, resp.Entry)
		return nil

	case fusekernel.OpGetattr:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.GetattrIn{}))
		if p == nil {
			return syscall.EIO
		}
		resp, err := s.fs.GetInodeAttributes(ctx, &GetInodeAttributesRequest{Header: reqHeader, Inode: inode})
		if err != nil {
			return err
		}
		appendAttrOut(outMsg, inode, resp.Attributes, resp.AttributesExpiration)
		return nil

	case fusekernel.OpSetattr:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.SetattrIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.SetattrIn)(p)
		req := &SetInodeAttributesRequest{Header: reqHeader, Inode: inode}
		if in.Valid&fusekernel.SetattrSize != 0 {
			req.Size = &in.Size
		}
		if in.Valid&fusekernel.SetattrMode != 0 {
			m := modeFromFuse(in.Mode)
			req.Mode = &m
		}
		if in.Valid&fusekernel.SetattrAtime != 0 {
			t := unixToTime(in.Atime, in.AtimeNsec)
			req.Atime = &t
		}
		if in.Valid&fusekernel.SetattrMtime != 0 {
			t := unixToTime(in.Mtime, in.MtimeNsec)
			req.Mtime = &t
		}
		resp, err := s.fs.SetInodeAttributes(ctx, req)
		if err != nil {
			return err
		}
		appendAttrOut(outMsg, inode, resp.Attributes, resp.AttributesExpiration)
		return nil

	case fusekernel.OpForget:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.ForgetIn{}))
		if p == nil {
			return nil
		}
		in := (*fusekernel.ForgetIn)(p)
		_, err := s.fs.ForgetInode(ctx, &ForgetInodeRequest{Header: reqHeader, ID: inode})
		_ = in
		return err

	case fusekernel.OpBatchForget:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.BatchForgetIn{}))
		if p == nil {
			return nil
		}
		in := (*fusekernel.BatchForgetIn)(p)
		entries := make([]ForgetInodeEntry, 0, in.Count)
		for i := uint32(0); i < in.Count; i++ {
			op := inMsg.Consume(unsafe.Sizeof(fusekernel.ForgetOne{}))
			if op == nil {
				break
			}
			one := (*fusekernel.ForgetOne)(op)
			entries = append(entries, ForgetInodeEntry{ID: fuseops.InodeID(one.Nodeid), N: one.Nlookup})
		}
		_, err := s.fs.BatchForgetInode(ctx, &BatchForgetInodeRequest{Header: reqHeader, Entries: entries})
		return err

	case fusekernel.OpReadlink:
		resp, err := s.fs.ReadSymlink(ctx, &ReadSymlinkRequest{Header: reqHeader, Inode: inode})
		if err != nil {
			return err
		}
		outMsg.AppendString(resp.Target)
		return nil

	case fusekernel.OpMkdir:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.MkdirIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.MkdirIn)(p)
		name := consumeName(inMsg)
		resp, err := s.fs.MkDir(ctx, &MkDirRequest{Header: reqHeader, Parent: inode, Name: name, Mode: modeFromFuse(in.Mode &^ in.Umask)})
		if err != nil {
			return err
		}
		appendEntryOut(outMsg, s.protocol, resp.Entry)
		return nil

	case fusekernel.OpMknod:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.MknodIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.MknodIn)(p)
		name := consumeName(inMsg)
		resp, err := s.fs.MkNode(ctx, &MkNodeRequest{Header: reqHeader, Parent: inode, Name: name, Mode: modeFromFuse(in.Mode &^ in.Umask), Rdev: in.Rdev})
		if err != nil {
			return err
		}
		appendEntryOut(outMsg, s.protocol, resp.Entry)
		return nil

	case fusekernel.OpCreate:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.CreateIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.CreateIn)(p)
		name := consumeName(inMsg)
		resp, err := s.fs.CreateFile(ctx, &CreateFileRequest{
			Header: reqHeader,
			Parent: inode,
			Name:   name,
			Mode:   modeFromFuse(in.Mode &^ in.Umask),
			Flags:  OpenFlags(in.Flags),
		})
		if err != nil {
			return err
		}
		appendEntryOut(outMsg, s.protocol, resp.Entry)
		openOut := (*fusekernel.OpenOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.OpenOut{}))))
		openOut.Fh = uint64(resp.Handle)
		return nil

	case fusekernel.OpSymlink:
		// Payload is "name\x00target\x00".
		name, target := consumeTwoNames(inMsg)
		resp, err := s.fs.CreateSymlink(ctx, &CreateSymlinkRequest{Header: reqHeader, Parent: inode, Name: name, Target: target})
		if err != nil {
			return err
		}
		appendEntryOut(outMsg, s.protocol, resp.Entry)
		return nil

	case fusekernel.OpLink:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.LinkIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.LinkIn)(p)
		name := consumeName(inMsg)
		resp, err := s.fs.CreateLink(ctx, &CreateLinkRequest{Header: reqHeader, Parent: inode, Name: name, Target: fuseops.InodeID(in.Oldnodeid)})
		if err != nil {
			return err
		}
		appendEntryOut(outMsg, s.protocol, resp.Entry)
		return nil

	case fusekernel.OpRmdir:
		name := consumeName(inMsg)
		_, err := s.fs.RmDir(ctx, &RmDirRequest{Header: reqHeader, Parent: inode, Name: name})
		return err

	case fusekernel.OpUnlink:
		name := consumeName(inMsg)
		_, err := s.fs.Unlink(ctx, &UnlinkRequest{Header: reqHeader, Parent: inode, Name: name})
		return err

	case fusekernel.OpRename:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.RenameIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.RenameIn)(p)
		oldName, newName := consumeTwoNames(inMsg)
		_, err := s.fs.Rename(ctx, &RenameRequest{Header: reqHeader, OldParent: inode, OldName: oldName, NewParent: fuseops.InodeID(in.Newdir), NewName: newName})
		return err

	case fusekernel.OpRename2:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.Rename2In{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.Rename2In)(p)
		oldName, newName := consumeTwoNames(inMsg)
		_, err := s.fs.Rename(ctx, &RenameRequest{
			Header:    reqHeader,
			OldParent: inode,
			OldName:   oldName,
			NewParent: fuseops.InodeID(in.Newdir),
			NewName:   newName,
			NoReplace: in.Flags&fusekernel.RenameNoReplace != 0,
			Exchange:  in.Flags&fusekernel.RenameExchange != 0,
			Whiteout:  in.Flags&fusekernel.RenameWhiteout != 0,
		})
		return err

	case fusekernel.OpOpen:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.OpenIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.OpenIn)(p)
		resp, err := s.fs.OpenFile(ctx, &OpenFileRequest{Header: reqHeader, Inode: inode, Flags: OpenFlags(in.Flags)})
		if err != nil {
			return err
		}
		out := (*fusekernel.OpenOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.OpenOut{}))))
		out.Fh = uint64(resp.Handle)
		if !resp.KeepPageCache {
			out.OpenFlags |= fusekernel.FopenDirectIO
		}
		return nil

	case fusekernel.OpRead:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.ReadIn)(p)
		resp, err := s.fs.ReadFile(ctx, &ReadFileRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Offset: int64(in.Offset), Size: int(in.Size)})
		if err != nil {
			return err
		}
		if uint32(len(resp.Data)) > in.Size {
			return syscall.ERANGE
		}
		outMsg.Append(resp.Data)
		return nil

	case fusekernel.OpWrite:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.WriteIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.WriteIn)(p)
		data := inMsg.ConsumeBytes(uintptr(in.Size))
		if data == nil && in.Size != 0 {
			return syscall.EIO
		}
		resp, err := s.fs.WriteFile(ctx, &WriteFileRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Offset: int64(in.Offset), Data: data})
		if err != nil {
			return err
		}
		out := (*fusekernel.WriteOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.WriteOut{}))))
		out.Size = uint32(len(data))
		_ = resp
		return nil

	case fusekernel.OpCopyFileRange:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.CopyFileRangeIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.CopyFileRangeIn)(p)
		resp, err := s.fs.CopyFileRange(ctx, &CopyFileRangeRequest{
			Header:    reqHeader,
			InInode:   inode,
			InHandle:  fuseops.HandleID(in.FhIn),
			InOffset:  int64(in.OffIn),
			OutInode:  fuseops.InodeID(in.NodeidOut),
			OutHandle: fuseops.HandleID(in.FhOut),
			OutOffset: int64(in.OffOut),
			Len:       in.Len,
			Flags:     in.Flags,
		})
		if err != nil {
			return err
		}
		out := (*fusekernel.WriteOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.WriteOut{}))))
		out.Size = resp.N
		return nil

	case fusekernel.OpFallocate:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.FallocateIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.FallocateIn)(p)
		_, err := s.fs.Fallocate(ctx, &FallocateRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Offset: in.Offset, Length: in.Length, Mode: in.Mode})
		return err

	case fusekernel.OpLseek:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.LseekIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.LseekIn)(p)
		resp, err := s.fs.Lseek(ctx, &LseekRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Offset: int64(in.Offset), Whence: int32(in.Whence)})
		if err != nil {
			return err
		}
		out := (*fusekernel.LseekOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.LseekOut{}))))
		out.Offset = uint64(resp.Offset)
		return nil

	case fusekernel.OpFsync:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.FsyncIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.FsyncIn)(p)
		_, err := s.fs.SyncFile(ctx, &SyncFileRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh)})
		return err

	case fusekernel.OpFsyncdir:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.FsyncIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.FsyncIn)(p)
		_, err := s.fs.SyncDir(ctx, &SyncDirRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), DataOnly: in.FsyncFlags&fusekernel.FsyncFdatasync != 0})
		return err

	case fusekernel.OpFlush:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.FlushIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.FlushIn)(p)
		_, err := s.fs.FlushFile(ctx, &FlushFileRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh)})
		return err

	case fusekernel.OpRelease:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.ReleaseIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.ReleaseIn)(p)
		_, err := s.fs.ReleaseFileHandle(ctx, &ReleaseFileHandleRequest{Header: reqHeader, Handle: fuseops.HandleID(in.Fh), FlockRelease: in.ReleaseFlags&fusekernel.ReleaseFlockUnlock != 0})
		return err

	case fusekernel.OpOpendir:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.OpenIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.OpenIn)(p)
		resp, err := s.fs.OpenDir(ctx, &OpenDirRequest{Header: reqHeader, Inode: inode, Flags: OpenFlags(in.Flags)})
		if err != nil {
			return err
		}
		out := (*fusekernel.OpenOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.OpenOut{}))))
		out.Fh = uint64(resp.Handle)
		return nil

	case fusekernel.OpReaddir:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.ReadIn)(p)
		resp, err := s.fs.ReadDir(ctx, &ReadDirRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Offset: fuseops.DirOffset(in.Offset), Size: int(in.Size)})
		if err != nil {
			return err
		}
		if uint32(len(resp.Data)) > in.Size {
			return syscall.ERANGE
		}
		outMsg.Append(resp.Data)
		return nil

	case fusekernel.OpReaddirplus:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.ReadIn)(p)
		resp, err := s.fs.ReadDirPlus(ctx, &ReadDirPlusRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Offset: fuseops.DirOffset(in.Offset), Size: int(in.Size)})
		if err != nil {
			return err
		}
		var total int
		for _, e := range resp.Entries {
			total += int(fusekernel.EntryOutSize(s.protocol)) + direntBufferSize(e.Dirent)
		}
		if uint32(total) > in.Size {
			return syscall.ERANGE
		}
		for _, e := range resp.Entries {
			appendEntryOut(outMsg, s.protocol, e.Entry)
			buf := make([]byte, direntBufferSize(e.Dirent))
			n := fuseutil.WriteDirent(buf, e.Dirent)
			outMsg.Append(buf[:n])
		}
		return nil

	case fusekernel.OpReleasedir:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.ReleaseIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.ReleaseIn)(p)
		_, err := s.fs.ReleaseDirHandle(ctx, &ReleaseDirHandleRequest{Header: reqHeader, Handle: fuseops.HandleID(in.Fh)})
		return err

	case fusekernel.OpStatfs:
		resp, err := s.fs.StatFS(ctx, &StatFSRequest{Header: reqHeader})
		if err != nil {
			return err
		}
		out := (*fusekernel.StatfsOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.StatfsOut{}))))
		out.Blocks = resp.Blocks
		out.Bfree = resp.BlocksFree
		out.Bavail = resp.BlocksAvail
		out.Files = resp.Files
		out.Ffree = resp.FilesFree
		out.Bsize = resp.BlockSize
		out.Namelen = resp.NameLength
		out.Frsize = resp.IoSize
		return nil

	case fusekernel.OpAccess:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.AccessIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.AccessIn)(p)
		_, err := s.fs.CheckAccess(ctx, &CheckAccessRequest{Header: reqHeader, Inode: inode, Mask: in.Mask})
		return err

	case fusekernel.OpGetxattr:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.GetxattrIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.GetxattrIn)(p)
		name := consumeName(inMsg)
		resp, err := s.fs.GetXattr(ctx, &GetXattrRequest{Header: reqHeader, Inode: inode, Name: name, Size: in.Size})
		if err != nil {
			return err
		}
		if in.Size == 0 {
			out := (*fusekernel.GetxattrOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.GetxattrOut{}))))
			out.Size = uint32(resp.BytesNeeded)
			return nil
		}
		if uint32(len(resp.Xattr)) > in.Size {
			return syscall.ERANGE
		}
		outMsg.Append(resp.Xattr)
		return nil

	case fusekernel.OpListxattr:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.GetxattrIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.GetxattrIn)(p)
		resp, err := s.fs.ListXattr(ctx, &ListXattrRequest{Header: reqHeader, Inode: inode, Size: in.Size})
		if err != nil {
			return err
		}
		if in.Size == 0 {
			out := (*fusekernel.GetxattrOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.GetxattrOut{}))))
			out.Size = uint32(resp.BytesNeeded)
			return nil
		}
		if uint32(len(resp.Xattr)) > in.Size {
			return syscall.ERANGE
		}
		outMsg.Append(resp.Xattr)
		return nil

	case fusekernel.OpSetxattr:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.SetxattrIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.SetxattrIn)(p)
		rest := consumeRemainder(inMsg)
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return syscall.EIO
		}
		name := string(rest[:i])
		value := rest[i+1:]
		if uint32(len(value)) > in.Size {
			value = value[:in.Size]
		}
		_, err := s.fs.SetXattr(ctx, &SetXattrRequest{Header: reqHeader, Inode: inode, Name: name, Value: value, Flags: in.Flags})
		return err

	case fusekernel.OpRemovexattr:
		name := consumeName(inMsg)
		_, err := s.fs.RemoveXattr(ctx, &RemoveXattrRequest{Header: reqHeader, Inode: inode, Name: name})
		return err

	case fusekernel.OpGetlk:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.LkIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.LkIn)(p)
		lock, err := fileLockFromWire(in.Lk)
		if err != nil {
			return err
		}
		resp, err := s.fs.GetLk(ctx, &GetLkRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Lock: lock})
		if err != nil {
			return err
		}
		out := (*fusekernel.LkOut)(outMsg.Grow(int(unsafe.Sizeof(fusekernel.LkOut{}))))
		out.Lk = fileLockToWire(resp.Lock)
		return nil

	case fusekernel.OpSetlk, fusekernel.OpSetlkw:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.LkIn{}))
		if p == nil {
			return syscall.EIO
		}
		in := (*fusekernel.LkIn)(p)
		lock, err := fileLockFromWire(in.Lk)
		if err != nil {
			return err
		}
		req := &SetLkRequest{Header: reqHeader, Inode: inode, Handle: fuseops.HandleID(in.Fh), Lock: lock, Flock: in.LkFlags&fusekernel.LkFlock != 0}
		if opcode == fusekernel.OpSetlkw {
			_, err = s.fs.SetLkw(ctx, req)
		} else {
			_, err = s.fs.SetLk(ctx, req)
		}
		return err

	case fusekernel.OpBmap:
		p := inMsg.Consume(unsafe.Sizeof(fusekernel.BmapIn{}))
		if p == nil {
			return syscall.EIO
		}
		// Block mapping is for mount(8)-level swapfile support over FUSE, which
		// this package does not implement; report the operation as unsupported.
		_ = p
		return syscall.ENOSYS

	case fusekernel.OpDestroy:
		return nil

	case fusekernel.OpPoll, fusekernel.OpIoctl:
		return syscall.ENOSYS

	default:
		return syscall.ENOSYS
	}
}

func unixToTime(sec uint64, nsec uint32) time.Time {
	return time.Unix(int64(sec), int64(nsec))
}

func fileLockFromWire(l fusekernel.FileLock) (FileLock, error) {
	t, err := MapFlockType(l.Type)
	if err != nil {
		return FileLock{}, err
	}
	return FileLock{Start: l.Start, End: l.End, Type: t, Pid: l.Pid}, nil
}

func fileLockToWire(l FileLock) fusekernel.FileLock {
	return fusekernel.FileLock{Start: l.Start, End: l.End, Type: UnmapFlockType(l.Type), Pid: l.Pid}
}

// direntBufferSize returns a buffer big enough for fuseutil.WriteDirent to
// succeed for d, including FUSE_DIRENT_ALIGN padding.
func direntBufferSize(d fuseops.Dirent) int {
	const direntSize = 8 + 8 + 4 + 4
	const align = 8
	pad := 0
	if len(d.Name)%align != 0 {
		pad = align - len(d.Name)%align
	}
	return direntSize + len(d.Name) + pad
}

