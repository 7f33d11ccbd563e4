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
	"errors"
	"unsafe"

	"golang.org/x/net/context"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/internal/buffer"
	"github.com/jacobsa/fuse/internal/fusekernel"
	"github.com/jacobsa/syncutil"
)

// Notifier sends asynchronous notifications to the kernel: invalidations the
// file system wants reflected in the dentry/page cache, and the
// NOTIFY_STORE/NOTIFY_RETRIEVE pair used to push or pull page cache contents
// outside of a normal Read/Write. Unlike every other message on the
// connection, notifications carry no InHeader.Unique to reply to -- they're
// unsolicited, except for the reply to a Retrieve, which the kernel
// correlates back to us via the NotifyUnique we mint.
type Notifier struct {
	session *Session

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	nextUnique uint64

	// Retrieve calls awaiting their NOTIFY_REPLY, keyed by the NotifyUnique
	// sent in the NotifyRetrieveOut.
	//
	// INVARIANT: for all keys k, k <= nextUnique
	//
	// GUARDED_BY(mu)
	pending map[uint64]chan retrieveReply
}

// retrieveReply is what handleReply hands back to a blocked Retrieve call:
// the kernel's NOTIFY_REPLY echoes an offset of its own, which may differ
// from the offset Retrieve requested, and callers need both.
type retrieveReply struct {
	offset uint64
	data   []byte
}

func (n *Notifier) checkInvariants() {
	for k := range n.pending {
		if k > n.nextUnique {
			panic("pending key exceeds nextUnique")
		}
	}
}

func newNotifier(s *Session) *Notifier {
	n := &Notifier{
		session: s,
		pending: make(map[uint64]chan retrieveReply),
	}
	n.mu = syncutil.NewInvariantMutex(n.checkInvariants)
	return n
}

// ErrNotifyUnsupported describes a notification that the kernel or
// connection cannot accept. Notifier methods do not return it: a failed
// device write is reported by returning the write's own error.
var ErrNotifyUnsupported = errors.New("fuse: notification not accepted")

func (n *Notifier) send(code fusekernel.NotifyCode, outMsg *buffer.OutMessage) error {
	h := outMsg.OutHeader()
	h.Unique = 0
	h.Error = int32(code)
	h.Len = uint32(outMsg.Len())
	return n.session.conn.writeMessage(outMsg)
}

// InvalidateInode tells the kernel to drop cached attributes and, if off >= 0,
// the given byte range of cached page data for inode.
func (n *Notifier) InvalidateInode(inode fuseops.InodeID, off, length int64) error {
	outMsg := n.session.conn.messages.GetOutMessage()
	defer n.session.conn.messages.PutOutMessage(outMsg)

	p := outMsg.Grow(int(unsafe.Sizeof(fusekernel.NotifyInvalInodeOut{})))
	out := (*fusekernel.NotifyInvalInodeOut)(p)
	out.Ino = uint64(inode)
	out.Off = off
	out.Len = length

	return n.send(fusekernel.NotifyCodeInvalInode, outMsg)
}

// InvalidateEntry tells the kernel to drop a single cached dentry, forcing a
// fresh LookUpInode the next time the name is resolved.
func (n *Notifier) InvalidateEntry(parent fuseops.InodeID, name string) error {
	outMsg := n.session.conn.messages.GetOutMessage()
	defer n.session.conn.messages.PutOutMessage(outMsg)

	p := outMsg.Grow(int(unsafe.Sizeof(fusekernel.NotifyInvalEntryOut{})))
	out := (*fusekernel.NotifyInvalEntryOut)(p)
	out.Parent = uint64(parent)
	out.Namelen = uint32(len(name))
	outMsg.AppendString(name)
	outMsg.Append([]byte{0})

	return n.send(fusekernel.NotifyCodeInvalEntry, outMsg)
}

// Delete is like InvalidateEntry, but also tells the kernel the specific
// child inode the name used to name, so it can detect and ignore the
// notification if the name has since been reused for something else.
func (n *Notifier) Delete(parent, child fuseops.InodeID, name string) error {
	outMsg := n.session.conn.messages.GetOutMessage()
	defer n.session.conn.messages.PutOutMessage(outMsg)

	p := outMsg.Grow(int(unsafe.Sizeof(fusekernel.NotifyDeleteOut{})))
	out := (*fusekernel.NotifyDeleteOut)(p)
	out.Parent = uint64(parent)
	out.Child = uint64(child)
	out.Namelen = uint32(len(name))
	outMsg.AppendString(name)
	outMsg.Append([]byte{0})

	return n.send(fusekernel.NotifyCodeDelete, outMsg)
}

// Store pushes data directly into the kernel's cached pages for inode at the
// given offset, without the file system needing to wait for a Read.
func (n *Notifier) Store(inode fuseops.InodeID, offset uint64, data []byte) error {
	outMsg := n.session.conn.messages.GetOutMessage()
	defer n.session.conn.messages.PutOutMessage(outMsg)

	p := outMsg.Grow(int(unsafe.Sizeof(fusekernel.NotifyStoreOut{})))
	out := (*fusekernel.NotifyStoreOut)(p)
	out.Nodeid = uint64(inode)
	out.Offset = offset
	out.Size = uint32(len(data))
	outMsg.Append(data)

	return n.send(fusekernel.NotifyCodeStore, outMsg)
}

// Retrieve asks the kernel to send back the bytes it has cached for inode at
// the given offset, up to size bytes. It blocks until the kernel's
// NOTIFY_REPLY arrives or ctx is done, then returns the offset the kernel
// reported alongside the reply's data -- the kernel is free to answer with
// an offset different from the one requested, and the caller must use that
// reported offset when interpreting data.
func (n *Notifier) Retrieve(ctx context.Context, inode fuseops.InodeID, offset uint64, size uint32) (uint64, []byte, error) {
	n.mu.Lock()
	unique := n.nextUnique + 1
	n.nextUnique = unique
	ch := make(chan retrieveReply, 1)
	n.pending[unique] = ch
	n.mu.Unlock()

	outMsg := n.session.conn.messages.GetOutMessage()
	defer n.session.conn.messages.PutOutMessage(outMsg)

	p := outMsg.Grow(int(unsafe.Sizeof(fusekernel.NotifyRetrieveOut{})))
	out := (*fusekernel.NotifyRetrieveOut)(p)
	out.NotifyUnique = unique
	out.Nodeid = uint64(inode)
	out.Offset = offset
	out.Size = size

	if err := n.send(fusekernel.NotifyCodeRetrieve, outMsg); err != nil {
		n.mu.Lock()
		delete(n.pending, unique)
		n.mu.Unlock()
		return 0, nil, err
	}

	select {
	case reply := <-ch:
		return reply.offset, reply.data, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.pending, unique)
		n.mu.Unlock()
		return 0, nil, ctx.Err()
	}
}

// PollWakeup tells the kernel that a file descriptor it polled with kh (the
// handle the file system was given in an earlier Poll) is now ready.
func (n *Notifier) PollWakeup(kh uint64) error {
	outMsg := n.session.conn.messages.GetOutMessage()
	defer n.session.conn.messages.PutOutMessage(outMsg)

	p := outMsg.Grow(int(unsafe.Sizeof(fusekernel.NotifyPollWakeupOut{})))
	out := (*fusekernel.NotifyPollWakeupOut)(p)
	out.Kh = kh

	return n.send(fusekernel.NotifyCodePoll, outMsg)
}

// handleReply delivers an inbound NOTIFY_REPLY to the goroutine blocked in
// Retrieve, correlated by the request header's Unique field (which echoes
// the NotifyUnique we minted).
func (n *Notifier) handleReply(inMsg *buffer.InMessage) {
	h := inMsg.Header()

	p := inMsg.Consume(unsafe.Sizeof(fusekernel.NotifyRetrieveIn{}))
	if p == nil {
		return
	}
	in := (*fusekernel.NotifyRetrieveIn)(p)
	data := inMsg.ConsumeBytes(uintptr(in.Size))

	n.mu.Lock()
	ch, ok := n.pending[h.Unique]
	if ok {
		delete(n.pending, h.Unique)
	}
	n.mu.Unlock()

	if ok {
		ch <- retrieveReply{offset: in.Offset, data: data}
	}
}

// Notifier returns the interface for sending asynchronous cache
// invalidation and store/retrieve notifications to the kernel on s.
func (s *Session) Notifier() *Notifier {
	return s.notifier
}
