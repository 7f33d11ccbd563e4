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
	"log"
	"time"

	"golang.org/x/net/context"
)

// MountConfig holds configuration for a mount operation, affecting both the
// fusermount(1) invocation and the INIT handshake that follows it.
type MountConfig struct {
	// A name for the file system, surfaced in mount(8) output and /proc/mounts.
	FSName string

	// The name of the file system type, reported as the "type" in mount(8)
	// output (e.g. "osxfuse" shows up as such; here it defaults to "fuse").
	Subtype string

	// Mount in read-only mode, disallowing any request that would mutate the
	// file system.
	ReadOnly bool

	// Extra options passed verbatim to fusermount's -o flag, beyond the ones
	// this package sets (default_permissions and subtype always, fsname when
	// FSName is non-empty).
	Options map[string]string

	// Ask the kernel to allow requests from users other than the one that
	// performed the mount (requires user_allow_other in /etc/fuse.conf, or
	// root).
	AllowOther bool

	// If set, requests will be dispatched with this as their parent context
	// rather than context.Background(), and cancelled if it's cancelled.
	OpContext context.Context

	// Enable the kernel to batch small reads into larger FUSE requests.
	EnableAsyncReads bool

	// By default the kernel is told it may delay writes in order to coalesce
	// them (FUSE_WRITEBACK_CACHE). Set this to request synchronous writes
	// instead.
	DisableWritebackCaching bool

	// Allow the kernel to cache symlink targets in its page cache.
	EnableSymlinkCaching bool

	// Tell the kernel it need not call OpenFile before ReadFile/WriteFile if
	// the file system has no interesting work to do there (Linux >= 3.16).
	EnableNoOpenSupport bool

	// As EnableNoOpenSupport, but for OpenDir (Linux >= 5.1).
	EnableNoOpendirSupport bool

	// Allow the kernel to send LookUpInode and ReadDir concurrently for the
	// same directory.
	EnableParallelDirOps bool

	// Request atomic O_TRUNC open semantics.
	EnableAtomicTrunc bool

	// Negotiate READDIRPLUS support, allowing ReadDirPlus to be used.
	EnableReaddirplus bool

	// When EnableReaddirplus is set, additionally let the kernel decide
	// adaptively between ReadDir and ReadDirPlus per call.
	EnableAutoReaddirplus bool

	// How long the serving goroutine waits for in-flight ops to finish once
	// the connection has gone away (e.g. after Unmount) before no longer
	// awaiting them. Zero means wait forever.
	ShutdownTimeout time.Duration

	// Where to write debug and error log lines. Both may be nil to discard.
	DebugLogger *log.Logger
	ErrorLogger *log.Logger

	// Number of additional /dev/fuse endpoints to open beyond the primary,
	// each served by its own reader goroutine, for parallelism reading off
	// the kernel beyond what a single endpoint allows. Zero (the default)
	// serves only the primary endpoint.
	ConnectionDuplicates int

	// When ConnectionDuplicates > 0, obtain each additional endpoint via the
	// FUSE_DEV_IOC_CLONE ioctl on a freshly opened /dev/fuse rather than a
	// plain dup(2) of the primary's descriptor.
	UseCloneIoctlForDuplicates bool
}
