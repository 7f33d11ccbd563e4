// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse

import (
	"syscall"
)

// Errors corresponding to kernel error numbers. A FileSystem method may
// return one of these directly, or any other syscall.Errno; anything else is
// reported to the kernel as EIO and logged.
const (
	EIO       = syscall.EIO
	ENOENT    = syscall.ENOENT
	ENOSYS    = syscall.ENOSYS
	ENOTEMPTY = syscall.ENOTEMPTY
	EEXIST    = syscall.EEXIST
	EINVAL    = syscall.EINVAL
	EINTR     = syscall.EINTR
	ENOTDIR   = syscall.ENOTDIR
	EISDIR    = syscall.EISDIR
	ERANGE    = syscall.ERANGE
	ENODATA   = syscall.ENODATA
	EPROTO    = syscall.EPROTO
)
