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
	"fmt"
	"math"
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/internal/buffer"
	"github.com/jacobsa/fuse/internal/fusekernel"
)

// sendReply finishes outMsg (a reply whose payload, if any, has already been
// appended by the caller) and writes it to the kernel as a single atomic
// frame. unique must be the fuse "unique" field of the request being
// answered; opErr is nil for success.
//
// This is the one place a frame crosses onto the wire, so it's the one place
// that enforces the frame-length limit: the payload must not push the frame
// length past what fits in a uint32. The check that read-style replies do
// not exceed the size the kernel asked for is made in DispatchOn.
func (s *Session) sendReply(outMsg *buffer.OutMessage, unique uint64, opErr error) error {
	return s.sendReplyOn(outMsg, unique, opErr, s.conn)
}

// sendReplyOn is sendReply against an explicit endpoint, used by DispatchOn
// so a reply is written back to the same Connection its request arrived on.
func (s *Session) sendReplyOn(outMsg *buffer.OutMessage, unique uint64, opErr error, conn *Connection) error {
	h := outMsg.OutHeader()
	h.Unique = unique

	if opErr != nil {
		h.Error = -int32(errnoOf(opErr))
		outMsg.ShrinkTo(buffer.OutMessageInitialSize)
	}

	length := outMsg.Len()
	if length > math.MaxUint32 {
		return fmt.Errorf("reply frame too large: %d bytes", length)
	}
	h.Len = uint32(length)

	return conn.writeMessage(outMsg)
}

// errnoOf extracts the kernel errno to report for err, defaulting to EIO for
// errors the file system didn't express as a syscall.Errno.
func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}

////////////////////////////////////////////////////////////////////////
// Attribute / entry encoding
////////////////////////////////////////////////////////////////////////

func convertAttributes(inode fuseops.InodeID, attr fuseops.InodeAttributes, out *fusekernel.Attr) {
	*out = fusekernel.Attr{
		Ino:       uint64(inode),
		Size:      attr.Size,
		Blocks:    (attr.Size + 511) / 512,
		Atime:     uint64(attr.Atime.Unix()),
		Mtime:     uint64(attr.Mtime.Unix()),
		Ctime:     uint64(attr.Ctime.Unix()),
		AtimeNsec: uint32(attr.Atime.Nanosecond()),
		MtimeNsec: uint32(attr.Mtime.Nanosecond()),
		CtimeNsec: uint32(attr.Ctime.Nanosecond()),
		Mode:      modeToFuse(attr.Mode),
		Nlink:     uint32(attr.Nlink),
		Uid:       attr.Uid,
		Gid:       attr.Gid,
		Blksize:   4096,
	}
}

// modeToFuse converts a Go os.FileMode to the st_mode bits the kernel
// expects: a format nibble (S_IFDIR, S_IFLNK, ...) or'd with the nine
// permission bits of mode.Perm().
func modeToFuse(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())

	switch {
	case mode&os.ModeDir != 0:
		m |= syscall.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= syscall.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= syscall.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= syscall.S_IFSOCK
	case mode&os.ModeDevice != 0:
		if mode&os.ModeCharDevice != 0 {
			m |= syscall.S_IFCHR
		} else {
			m |= syscall.S_IFBLK
		}
	default:
		m |= syscall.S_IFREG
	}

	return m
}

// modeFromFuse is the inverse of modeToFuse, used when decoding MkDir/MkNod
// requests.
func modeFromFuse(m uint32) os.FileMode {
	perm := os.FileMode(m & 0777)

	switch m & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return perm | os.ModeDir
	case syscall.S_IFLNK:
		return perm | os.ModeSymlink
	case syscall.S_IFIFO:
		return perm | os.ModeNamedPipe
	case syscall.S_IFSOCK:
		return perm | os.ModeSocket
	case syscall.S_IFCHR:
		return perm | os.ModeDevice | os.ModeCharDevice
	case syscall.S_IFBLK:
		return perm | os.ModeDevice
	default:
		return perm
	}
}

// durationToExpiry turns an absolute expiration time into the (seconds,
// nanoseconds) pair the kernel wants, relative to now. The zero time.Time
// means "don't cache" and maps to (0, 0), which the kernel treats as already
// expired.
func durationToExpiry(expiry time.Time) (sec uint64, nsec uint32) {
	if expiry.IsZero() {
		return 0, 0
	}

	d := expiry.Sub(time.Now())
	if d < 0 {
		d = 0
	}

	sec = uint64(d / time.Second)
	nsec = uint32(d % time.Second)
	return
}

func appendEntryOut(outMsg *buffer.OutMessage, protocol fusekernel.Protocol, e fuseops.ChildInodeEntry) {
	size := fusekernel.EntryOutSize(protocol)
	p := outMsg.Grow(int(size))
	out := (*fusekernel.EntryOut)(p)

	out.Nodeid = uint64(e.Child)
	out.Generation = uint64(e.Generation)
	out.EntryValid, out.EntryValidNsec = durationToExpiry(e.EntryExpiration)
	out.AttrValid, out.AttrValidNsec = durationToExpiry(e.AttributesExpiration)
	convertAttributes(e.Child, e.Attributes, &out.Attr)
}

func appendAttrOut(outMsg *buffer.OutMessage, inode fuseops.InodeID, attr fuseops.InodeAttributes, expiry time.Time) {
	size := fusekernel.AttrOutSize(fusekernel.Protocol{})
	p := outMsg.Grow(int(size))
	out := (*fusekernel.AttrOut)(p)

	out.AttrValid, out.AttrValidNsec = durationToExpiry(expiry)
	convertAttributes(inode, attr, &out.Attr)
}
