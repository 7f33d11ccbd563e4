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
	"log"
	"reflect"
	"unsafe"

	"github.com/jacobsa/fuse/internal/fusekernel"
)

// MaxReadSize bounds the payload capacity of a single OutMessage: enough
// for the largest negotiated Write/Read reply plus header and per-opcode
// reply struct overhead.
const MaxReadSize = fusekernel.MaxWriteSize + 4096

// OutMessageInitialSize is the size of the leading header present in every
// freshly Reset OutMessage.
const OutMessageInitialSize = uintptr(unsafe.Sizeof(fusekernel.OutHeader{}))

// OutMessage provides a mechanism for constructing a single contiguous fuse
// reply from multiple segments, where the first segment is always a
// fusekernel.OutHeader.
//
// Must be initialized with Reset before use; the zero value has a zeroed
// header but offset 0, whereas Reset sets the offset just past the header.
type OutMessage struct {
	// offset counts total bytes written so far, including the header.
	offset uintptr

	header  [OutMessageInitialSize]byte
	payload [MaxReadSize]byte
}

// Make sure that the header field is aligned correctly for
// fusekernel.OutHeader type punning.
func init() {
	a := unsafe.Alignof(OutMessage{})
	o := unsafe.Offsetof(OutMessage{}.header)
	e := unsafe.Alignof(fusekernel.OutHeader{})

	if a%e != 0 || o%e != 0 {
		log.Panicf("Bad alignment or offset: %d, %d, need %d", a, o, e)
	}
}

// Make sure that the header and payload are contiguous.
func init() {
	a := unsafe.Offsetof(OutMessage{}.header) + uintptr(OutMessageInitialSize)
	b := unsafe.Offsetof(OutMessage{}.payload)

	if a != b {
		log.Panicf(
			"header ends at offset %d, but payload starts at offset %d",
			a, b)
	}
}

// Reset resets m so that it's ready to be used again. Afterward, the
// contents are solely a zeroed fusekernel.OutHeader struct.
func (m *OutMessage) Reset() {
	m.offset = OutMessageInitialSize
	memclr(unsafe.Pointer(&m.header), OutMessageInitialSize)
}

// base returns a pointer to the first byte of the message (the header).
func (m *OutMessage) base() unsafe.Pointer {
	return unsafe.Pointer(&m.header)
}

// OutHeader returns a pointer to the header at the start of the message.
func (m *OutMessage) OutHeader() (h *fusekernel.OutHeader) {
	return (*fusekernel.OutHeader)(m.base())
}

// GrowNoZero grows m's buffer by n bytes, returning a pointer to the start
// of the new (uninitialized) segment. Returns nil if there isn't enough
// capacity.
func (m *OutMessage) GrowNoZero(n int) (p unsafe.Pointer) {
	newOffset := m.offset + uintptr(n)
	if newOffset > OutMessageInitialSize+uintptr(len(m.payload)) {
		return nil
	}

	p = unsafe.Pointer(uintptr(m.base()) + m.offset)
	m.offset = newOffset
	return p
}

// Grow is like GrowNoZero, except the new segment is zeroed.
func (m *OutMessage) Grow(n int) (p unsafe.Pointer) {
	p = m.GrowNoZero(n)
	if p != nil {
		memclr(p, uintptr(n))
	}
	return p
}

// ShrinkTo shrinks m to the given total size. It panics if n is greater
// than Len() or less than OutMessageInitialSize.
func (m *OutMessage) ShrinkTo(n uintptr) {
	if n > m.offset {
		panic(fmt.Sprintf("ShrinkTo(%d): currently only %d bytes long", n, m.offset))
	}
	if n < OutMessageInitialSize {
		panic(fmt.Sprintf("ShrinkTo(%d): below header size %d", n, OutMessageInitialSize))
	}

	m.offset = n
}

// Append is equivalent to growing by len(src), then copying src over the
// new segment. It panics if there is not enough room available.
func (m *OutMessage) Append(src []byte) {
	p := m.GrowNoZero(len(src))
	if p == nil {
		panic(fmt.Sprintf("Can't grow %d bytes", len(src)))
	}

	sh := (*reflect.SliceHeader)(unsafe.Pointer(&src))
	memmove(p, unsafe.Pointer(sh.Data), uintptr(sh.Len))
}

// AppendString is like Append, but accepts string input.
func (m *OutMessage) AppendString(src string) {
	p := m.GrowNoZero(len(src))
	if p == nil {
		panic(fmt.Sprintf("Can't grow %d bytes", len(src)))
	}

	sh := (*reflect.StringHeader)(unsafe.Pointer(&src))
	memmove(p, unsafe.Pointer(sh.Data), uintptr(sh.Len))
}

// Len returns the current size of the message, including the leading
// header.
func (m *OutMessage) Len() int {
	return int(m.offset)
}

// Bytes returns a reference to the current contents of the buffer,
// including the leading header.
func (m *OutMessage) Bytes() []byte {
	sh := reflect.SliceHeader{
		Data: uintptr(m.base()),
		Len:  int(m.offset),
		Cap:  int(m.offset),
	}

	return *(*[]byte)(unsafe.Pointer(&sh))
}

// memclr zeroes the n bytes starting at p.
func memclr(p unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	b := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(p),
		Len:  int(n),
		Cap:  int(n),
	}))
	for i := range b {
		b[i] = 0
	}
}

// memmove copies n bytes from src to dst. The regions may not overlap.
func memmove(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	d := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(dst),
		Len:  int(n),
		Cap:  int(n),
	}))
	s := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(src),
		Len:  int(n),
		Cap:  int(n),
	}))
	copy(d, s)
}
