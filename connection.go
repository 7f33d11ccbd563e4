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
	"io"
	"log"
	"os"
	"path"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/fuse/internal/buffer"
)

// fuseDevIocClone is FUSE_DEV_IOC_CLONE, the ioctl the kernel defines for
// binding a freshly opened /dev/fuse descriptor to an existing FUSE session
// so it can act as an additional read/write endpoint. Linux defines it as
// _IOR(229, 0, uint32); the kernel headers don't ship a Go form of that, so
// the expansion is spelled out here.
const fuseDevIocClone = 0x8004e500

// Connection is the raw transport to the kernel: a single /dev/fuse file
// descriptor, a pair of message pools, and a mutex serializing writes. It
// knows nothing about FUSE opcodes; Session is the layer that understands
// the protocol carried over it.
type Connection struct {
	debugLogger *log.Logger
	errorLogger *log.Logger

	dev *os.File

	// Every reply frame, regardless of which goroutine produced it, must be
	// written to dev as a single atomic unit or replies from concurrent
	// dispatch goroutines could interleave on the wire. This mutex is the only
	// thing that guarantees that.
	writeMu sync.Mutex

	messages DefaultMessageProvider
}

// newConnection wraps dev, which must already be an open, mounted /dev/fuse
// (or clone) descriptor. The loggers may be nil.
func newConnection(
	debugLogger *log.Logger,
	errorLogger *log.Logger,
	dev *os.File) *Connection {
	return &Connection{
		debugLogger: debugLogger,
		errorLogger: errorLogger,
		dev:         dev,
	}
}

// debugLog writes a debug message tagged with the request's fuse unique ID.
// calldepth is the depth to use when recovering file:line information with
// runtime.Caller.
func (c *Connection) debugLog(
	fuseID uint64,
	calldepth int,
	format string,
	v ...interface{}) {
	if c.debugLogger == nil {
		return
	}

	var file string
	var line int
	var ok bool

	_, file, line, ok = runtime.Caller(calldepth)
	if !ok {
		file = "???"
	}

	fileLine := fmt.Sprintf("%v:%v", path.Base(file), line)

	msg := fmt.Sprintf(
		"Op 0x%08x %24s] %v",
		fuseID,
		fileLine,
		fmt.Sprintf(format, v...))

	c.debugLogger.Println(msg)
}

func (c *Connection) errorLog(format string, v ...interface{}) {
	if c.errorLogger == nil {
		return
	}
	c.errorLogger.Printf(format, v...)
}

// readMessage reads the next frame from the kernel into a pooled InMessage.
// On return with a non-nil error the message has already been returned to
// the pool.
func (c *Connection) readMessage() (*buffer.InMessage, error) {
	m := c.messages.GetInMessage()

	for {
		err := m.Init(c.dev)

		// Special cases:
		//
		//  *  ENODEV means the kernel has torn down the mount; report this to
		//     callers as a clean end of stream.
		//
		//  *  EINTR means a signal interrupted the read; retry.
		if pe, ok := err.(*os.PathError); ok {
			switch pe.Err {
			case syscall.ENODEV:
				err = io.EOF
			case syscall.EINTR:
				err = nil
				continue
			}
		}

		if err != nil {
			c.messages.PutInMessage(m)
			return nil, err
		}

		return m, nil
	}
}

// writeMessage writes a single pooled OutMessage's current contents to the
// kernel as one atomic frame.
func (c *Connection) writeMessage(outMsg *buffer.OutMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	b := outMsg.Bytes()
	n, err := syscall.Write(int(c.dev.Fd()), b)
	if err != nil {
		return err
	}

	if n != len(b) {
		return fmt.Errorf("wrote %d bytes; expected %d", n, len(b))
	}

	return nil
}

// close closes the underlying device. It must not be called until every op
// read from the connection has been replied to.
func (c *Connection) close() error {
	return c.dev.Close()
}

// duplicate returns a second Connection endpoint bound to the same FUSE
// session as c. The kernel treats each endpoint's frames as independent and
// self-delimited, so the new Connection gets its own write mutex and message
// pools rather than sharing c's -- only per-endpoint write atomicity is
// required, not atomicity across endpoints. Session's interrupt/retrieve
// bookkeeping lives above Connection and is endpoint-agnostic, so it works
// unmodified regardless of which endpoint a given frame arrives on or is
// replied through.
//
// If useCloneIoctl is true, a fresh /dev/fuse descriptor is opened and bound
// to this session via the FUSE_DEV_IOC_CLONE ioctl, passing c's descriptor
// as the clone source -- this is the only way to get a second descriptor
// without an extra mount. If false, a plain dup(2) of c's descriptor is used
// instead; the duplicate shares the same open file description as c; note
// the kernel's FUSE protocol itself is fine with this, since reads and
// writes to /dev/fuse do not contend on a file offset.
func (c *Connection) duplicate(useCloneIoctl bool) (*Connection, error) {
	var dupDev *os.File

	if useCloneIoctl {
		clone, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("opening /dev/fuse for clone: %w", err)
		}

		srcFd := uint32(c.dev.Fd())
		if err := unix.IoctlSetPointerInt(int(clone.Fd()), fuseDevIocClone, int(srcFd)); err != nil {
			clone.Close()
			return nil, fmt.Errorf("FUSE_DEV_IOC_CLONE: %w", err)
		}

		dupDev = clone
	} else {
		newFd, err := unix.Dup(int(c.dev.Fd()))
		if err != nil {
			return nil, fmt.Errorf("dup: %w", err)
		}

		dupDev = os.NewFile(uintptr(newFd), "/dev/fuse")
	}

	dup := &Connection{
		debugLogger: c.debugLogger,
		errorLogger: c.errorLogger,
		dev:         dupDev,
	}
	return dup, nil
}
