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

// Package fuseops defines the value types shared between a FileSystem
// implementation and the session core that drives it: inode and handle
// identifiers, attribute structs, directory entries, and lock types. None of
// these types touch the kernel wire format directly; that's the job of
// package fuse's session and reply machinery.
package fuseops

import (
	"os"
	"time"
)

// A 64-bit number used to uniquely identify a file or directory in the file
// system. File systems may mint inode IDs with any value except for
// RootInodeID.
//
// This corresponds to struct inode::i_no in the VFS layer.
type InodeID uint64

// A distinguished inode ID that identifies the root of the file system, e.g.
// in a request to OpenDir or LookUpInode. Unlike all other inode IDs, which
// are minted by the file system, the FUSE VFS layer may send a request for
// this ID without the file system ever having referenced it in a previous
// response.
const RootInodeID InodeID = 1

// A generation number for an inode. Irrelevant for file systems that won't be
// exported over NFS. For those that will and that reuse inode IDs when they
// become free, the generation number must change when an ID is reused.
//
// This corresponds to struct inode::i_generation in the VFS layer.
type GenerationNumber uint64

// An opaque 64-bit number used to identify a particular open handle to a file
// or directory.
//
// This corresponds to fuse_file_info::fh.
type HandleID uint64

// An offset into an open directory handle. This is opaque to FUSE, and can be
// used for whatever purpose the file system desires. See notes on
// ReadDirRequest.Offset for details.
type DirOffset uint64

// Attributes for a file or directory inode. Corresponds to struct inode (cf.
// http://goo.gl/tvYyQt).
type InodeAttributes struct {
	Size uint64

	// The number of incoming hard links to this inode.
	Nlink uint64

	// The mode of the inode. This is exposed to the user in e.g. the result of
	// fstat(2).
	//
	// This package mounts file systems with the default_permissions option, so
	// the kernel enforces standard POSIX permission checks against this field
	// rather than deferring to the file system for every access.
	Mode os.FileMode

	// Time information. See `man 2 stat` for full details.
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time

	// Ownership information.
	Uid uint32
	Gid uint32
}

// Information about a child inode within its parent directory. Shared by the
// responses for LookUpInode, MkDir, CreateFile, etc. Consumed by the kernel
// in order to set up a dcache entry.
type ChildInodeEntry struct {
	// The ID of the child inode. The file system must ensure that the returned
	// inode ID remains valid until a later call to ForgetInode.
	Child InodeID

	// A generation number for this incarnation of the inode with the given ID.
	Generation GenerationNumber

	// Current attributes for the child inode.
	Attributes InodeAttributes

	// How long the kernel may cache Attributes before re-querying them. Leave
	// at the zero value to disable caching.
	AttributesExpiration time.Time

	// How long the kernel may cache this name-to-inode mapping in its dentry
	// cache before revalidating. Leave at the zero value to disable caching.
	EntryExpiration time.Time
}

// A directory entry in the format consumed by fuseutil.WriteDirent, which the
// file system uses to fill the buffer requested by a ReadDir call.
type Dirent struct {
	// The offset within the directory of the entry following this one. See
	// notes on ReadDirRequest.Offset for how this is used.
	Offset DirOffset

	// The inode of the child referenced by this entry, and the type of file it
	// is, if known.
	Inode InodeID
	Name  string
	Type  DirentType
}

// The type of a directory entry, mirroring the values of fuse_dirent::type
// and struct dirent::d_type.
type DirentType uint32

const (
	DT_Unknown DirentType = 0
	DT_FIFO    DirentType = 1
	DT_Char    DirentType = 2
	DT_Block   DirentType = 3
	DT_Dir     DirentType = 4
	DT_File    DirentType = 8
	DT_Link    DirentType = 10
	DT_Socket  DirentType = 12
)

// A lock type as used by GetLk/SetLk/SetLkw, mirroring fcntl(2)'s F_RDLCK,
// F_WRLCK, and F_UNLCK after translation from the kernel's flock(2)-style
// FUSE_RELEASE/FUSE_SETLK encoding.
type FileLockType uint32

const (
	F_RDLOCK FileLockType = 0
	F_WRLOCK FileLockType = 1
	F_UNLOCK FileLockType = 2
)

// A POSIX record lock, as exchanged by GetLk and SetLk/SetLkw.
type FileLock struct {
	Start uint64
	End   uint64
	Type  FileLockType
	Pid   uint32
}
