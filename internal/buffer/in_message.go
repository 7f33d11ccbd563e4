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

package buffer

import (
	"fmt"
	"io"
	"reflect"
	"unsafe"

	"github.com/jacobsa/fuse/internal/fusekernel"
)

// inHeaderSize is the size of the leading fusekernel.InHeader in every
// message.
const inHeaderSize = int(unsafe.Sizeof(fusekernel.InHeader{}))

// InMessage is an incoming message from the kernel, including the leading
// fusekernel.InHeader struct. The kernel always delivers one complete frame
// per read(2), so a single Read call fills the whole message; there is no
// partial-frame reassembly.
type InMessage struct {
	storage  [inHeaderSize + MaxReadSize]byte
	size     int // total bytes filled by the most recent Init
	consumed int // bytes consumed from storage[inHeaderSize:] so far
}

// Init fills m with the data read by a single call to r.Read, which for the
// /dev/fuse device always returns exactly one frame. Afterward the first
// call to Consume will return bytes directly after the fusekernel.InHeader.
func (m *InMessage) Init(r io.Reader) (err error) {
	n, err := r.Read(m.storage[:])
	if err != nil {
		return err
	}

	if n < inHeaderSize {
		return fmt.Errorf("read %d bytes, too short for a header of size %d", n, inHeaderSize)
	}

	m.size = n
	m.consumed = 0
	return nil
}

// Header returns a reference to the header read in the most recent call to
// Init.
func (m *InMessage) Header() (h *fusekernel.InHeader) {
	return (*fusekernel.InHeader)(unsafe.Pointer(&m.storage[0]))
}

// Len returns the number of bytes remaining to be consumed after the
// header.
func (m *InMessage) Len() int {
	return (m.size - inHeaderSize) - m.consumed
}

// Consume consumes the next n bytes from the message, returning a nil
// pointer if there are fewer than n bytes available.
func (m *InMessage) Consume(n uintptr) (p unsafe.Pointer) {
	in := int(n)
	if in < 0 || in > m.Len() {
		return nil
	}

	off := inHeaderSize + m.consumed
	p = unsafe.Pointer(&m.storage[off])
	m.consumed += in
	return p
}

// ConsumeBytes is equivalent to Consume, except it returns a slice of
// bytes. The result is nil if Consume would fail.
func (m *InMessage) ConsumeBytes(n uintptr) (b []byte) {
	p := m.Consume(n)
	if p == nil {
		return nil
	}

	sh := reflect.SliceHeader{
		Data: uintptr(p),
		Len:  int(n),
		Cap:  int(n),
	}
	return *(*[]byte)(unsafe.Pointer(&sh))
}
