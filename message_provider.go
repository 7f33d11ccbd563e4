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
	"sync"
	"unsafe"

	"github.com/jacobsa/fuse/internal/buffer"
	"github.com/jacobsa/fuse/internal/freelist"
)

// MessageProvider supplies and reclaims the buffers used to read requests
// from and write replies to the kernel, so that steady-state operation
// does no further allocation.
type MessageProvider interface {
	GetInMessage() *buffer.InMessage
	GetOutMessage() *buffer.OutMessage
	PutInMessage(*buffer.InMessage)
	PutOutMessage(*buffer.OutMessage)
}

// DefaultMessageProvider pools messages with a pair of free lists guarded
// by a single mutex.
type DefaultMessageProvider struct {
	mu sync.Mutex

	inMessages  freelist.Freelist // GUARDED_BY(mu)
	outMessages freelist.Freelist // GUARDED_BY(mu)
}

func (m *DefaultMessageProvider) GetInMessage() *buffer.InMessage {
	m.mu.Lock()
	x := (*buffer.InMessage)(m.inMessages.Get())
	m.mu.Unlock()

	if x == nil {
		x = new(buffer.InMessage)
	}

	return x
}

func (m *DefaultMessageProvider) GetOutMessage() *buffer.OutMessage {
	m.mu.Lock()
	x := (*buffer.OutMessage)(m.outMessages.Get())
	m.mu.Unlock()

	if x == nil {
		x = new(buffer.OutMessage)
	}
	x.Reset()

	return x
}

func (m *DefaultMessageProvider) PutInMessage(x *buffer.InMessage) {
	m.mu.Lock()
	m.inMessages.Put(unsafe.Pointer(x))
	m.mu.Unlock()
}

func (m *DefaultMessageProvider) PutOutMessage(x *buffer.OutMessage) {
	m.mu.Lock()
	m.outMessages.Put(unsafe.Pointer(x))
	m.mu.Unlock()
}
