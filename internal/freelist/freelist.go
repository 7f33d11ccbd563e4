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

// Package freelist implements a singly-linked free list of untyped
// unsafe.Pointer values. Callers provide their own mutual exclusion; this
// type is not safe for concurrent use on its own.
package freelist

import "unsafe"

// node is overlaid on the first word of whatever the caller Put() back, so
// the free list costs no extra allocation of its own.
type node struct {
	next *node
}

// Freelist is a LIFO pool of pointers to same-sized, same-layout values.
// The zero value is an empty list.
type Freelist struct {
	head *node
}

// Get removes and returns the most recently Put value, or nil if the list
// is empty.
func (l *Freelist) Get() unsafe.Pointer {
	n := l.head
	if n == nil {
		return nil
	}
	l.head = n.next
	return unsafe.Pointer(n)
}

// Put returns p to the list for later reuse. p must not be used again by
// the caller until a subsequent Get returns it.
func (l *Freelist) Put(p unsafe.Pointer) {
	n := (*node)(p)
	n.next = l.head
	l.head = n
}
