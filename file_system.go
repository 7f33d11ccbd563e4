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
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"golang.org/x/net/context"
)

// An interface that must be implemented by file systems to be mounted with
// FUSE. See also the comments on request and response structs.
//
// Not all methods need to have interesting implementations. Embed a field of
// type NotImplementedFileSystem to inherit defaults; most of them return
// ENOSYS to the kernel, and the rest succeed without doing anything.
//
// The session core never calls two methods for the same inode or handle
// concurrently in a way that would violate the invariants documented below,
// but otherwise methods may be called concurrently and from goroutines other
// than the one that called Mount. Implementations must be safe for
// concurrent use.
type FileSystem interface {
	// This method is called once when mounting the file system. It must succeed
	// in order for the mount to succeed.
	Init(
		ctx context.Context,
		req *InitRequest) (*InitResponse, error)

	// Called when the session is shutting down, after the last reply has been
	// sent. Implementations may release resources here; no further calls will
	// be made.
	Destroy()

	///////////////////////////////////
	// Inodes
	///////////////////////////////////

	// Look up a child by name within a parent directory. The kernel calls this
	// when resolving user paths to dentry structs, which are then cached.
	LookUpInode(
		ctx context.Context,
		req *LookUpInodeRequest) (*LookUpInodeResponse, error)

	// Refresh the attributes for an inode whose ID was previously returned by
	// LookUpInode. The kernel calls this when the FUSE VFS layer's cache of
	// inode attributes is stale. This is controlled by the AttributesExpiration
	// field of responses to LookUp, etc.
	GetInodeAttributes(
		ctx context.Context,
		req *GetInodeAttributesRequest) (*GetInodeAttributesResponse, error)

	// Change attributes for an inode.
	//
	// The kernel calls this for obvious cases like chmod(2), and for less
	// obvious cases like ftrunctate(2).
	SetInodeAttributes(
		ctx context.Context,
		req *SetInodeAttributesRequest) (*SetInodeAttributesResponse, error)

	// Forget an inode ID previously issued (e.g. by LookUpInode or MkDir). The
	// kernel calls this when removing an inode from its internal caches.
	ForgetInode(
		ctx context.Context,
		req *ForgetInodeRequest) (*ForgetInodeResponse, error)

	// Batched form of ForgetInode, sent instead of a sequence of individual
	// Forget calls when the kernel supports it.
	BatchForgetInode(
		ctx context.Context,
		req *BatchForgetInodeRequest) (*BatchForgetInodeResponse, error)

	// Read the target of a symlink inode.
	ReadSymlink(
		ctx context.Context,
		req *ReadSymlinkRequest) (*ReadSymlinkResponse, error)

	///////////////////////////////////
	// Inode creation
	///////////////////////////////////

	// Create a directory inode as a child of an existing directory inode. The
	// kernel sends this in response to a mkdir(2) call.
	//
	// The kernel appears to verify the name doesn't already exist (mkdir calls
	// mkdirat calls user_path_create calls filename_create, which verifies:
	// http://goo.gl/FZpLu5). But volatile file systems and paranoid non-volatile
	// file systems should check for the reasons described below on CreateFile.
	MkDir(
		ctx context.Context,
		req *MkDirRequest) (*MkDirResponse, error)

	// Create a device, FIFO, or socket inode as a child of an existing
	// directory, in response to mknod(2).
	MkNode(
		ctx context.Context,
		req *MkNodeRequest) (*MkNodeResponse, error)

	// Create a file inode and open it.
	//
	// The kernel calls this method when the user asks to open a file with the
	// O_CREAT flag and the kernel has observed that the file doesn't exist. (See
	// for example lookup_open, http://goo.gl/PlqE9d).
	//
	// However it's impossible to tell for sure that all kernels make this check
	// in all cases and the official fuse documentation is less than encouraging
	// (" the file does not exist, first create it with the specified mode, and
	// then open it"). Therefore file systems would be smart to be paranoid and
	// check themselves, returning EEXIST when the file already exists. This of
	// course particularly applies to file systems that are volatile from the
	// kernel's point of view.
	CreateFile(
		ctx context.Context,
		req *CreateFileRequest) (*CreateFileResponse, error)

	// Create a symlink inode as a child of an existing directory, in response
	// to symlink(2).
	CreateSymlink(
		ctx context.Context,
		req *CreateSymlinkRequest) (*CreateSymlinkResponse, error)

	// Create a hard link to an existing inode as a child of an existing
	// directory, in response to link(2).
	CreateLink(
		ctx context.Context,
		req *CreateLinkRequest) (*CreateLinkResponse, error)

	///////////////////////////////////
	// Inode destruction
	///////////////////////////////////

	// Unlink a directory from its parent. Because directories cannot have a link
	// count above one, this means the directory inode should be deleted as well
	// once the kernel calls ForgetInode.
	//
	// The file system is responsible for checking that the directory is empty.
	//
	// Sample implementation in ext2: ext2_rmdir (http://goo.gl/B9QmFf)
	RmDir(
		ctx context.Context,
		req *RmDirRequest) (*RmDirResponse, error)

	// Unlink a file from its parent. If this brings the inode's link count to
	// zero, the inode should be deleted once the kernel calls ForgetInode. It
	// may still be referenced before then if a user still has the file open.
	//
	// Sample implementation in ext2: ext2_unlink (http://goo.gl/hY6r6C)
	Unlink(
		ctx context.Context,
		req *UnlinkRequest) (*UnlinkResponse, error)

	///////////////////////////////////
	// Renaming
	///////////////////////////////////

	// Rename a file or directory, in response to rename(2). If NewParent
	// already has a child with NewName, it is atomically replaced, subject to
	// the usual rules (a directory may only replace an empty directory, etc.).
	Rename(
		ctx context.Context,
		req *RenameRequest) (*RenameResponse, error)

	///////////////////////////////////
	// Extended attributes
	///////////////////////////////////

	// Look up the value of an extended attribute, in response to getxattr(2).
	GetXattr(
		ctx context.Context,
		req *GetXattrRequest) (*GetXattrResponse, error)

	// List the names of an inode's extended attributes, in response to
	// listxattr(2).
	ListXattr(
		ctx context.Context,
		req *ListXattrRequest) (*ListXattrResponse, error)

	// Set the value of an extended attribute, in response to setxattr(2).
	SetXattr(
		ctx context.Context,
		req *SetXattrRequest) (*SetXattrResponse, error)

	// Remove an extended attribute, in response to removexattr(2).
	RemoveXattr(
		ctx context.Context,
		req *RemoveXattrRequest) (*RemoveXattrResponse, error)

	///////////////////////////////////
	// Locking
	///////////////////////////////////

	// Test whether a POSIX record lock would be granted, in response to
	// fcntl(2) F_GETLK. The kernel only sends this for locks that aren't
	// resolvable locally against its own view of locks held by this process.
	GetLk(
		ctx context.Context,
		req *GetLkRequest) (*GetLkResponse, error)

	// Acquire, modify, or release a POSIX record lock (non-blocking form), in
	// response to fcntl(2) F_SETLK, or an advisory BSD lock in response to
	// flock(2).
	SetLk(
		ctx context.Context,
		req *SetLkRequest) (*SetLkResponse, error)

	// As SetLk, but the kernel will block the caller until the lock becomes
	// available rather than returning EAGAIN. Handled identically by this
	// package; the blocking behavior lives entirely in the kernel.
	SetLkw(
		ctx context.Context,
		req *SetLkRequest) (*SetLkResponse, error)

	///////////////////////////////////
	// Directory handles
	///////////////////////////////////

	// Open a directory inode.
	//
	// On Linux the kernel calls this method when setting up a struct file for a
	// particular inode with type directory, usually in response to an open(2)
	// call from a user-space process. On OS X it may not be called for every
	// open(2) (cf. https://github.com/osxfuse/osxfuse/issues/199).
	OpenDir(
		ctx context.Context,
		req *OpenDirRequest) (*OpenDirResponse, error)

	// Read entries from a directory previously opened with OpenDir.
	ReadDir(
		ctx context.Context,
		req *ReadDirRequest) (*ReadDirResponse, error)

	// Like ReadDir, but also returns a ChildInodeEntry for each entry so the
	// kernel can populate its dentry/attribute caches without a follow-up
	// LookUpInode per name. Sent instead of ReadDir when the kernel negotiated
	// READDIRPLUS support during Init.
	ReadDirPlus(
		ctx context.Context,
		req *ReadDirPlusRequest) (*ReadDirPlusResponse, error)

	// Flush and sync the contents of a directory handle, in response to
	// fsync(2) on a directory file descriptor.
	SyncDir(
		ctx context.Context,
		req *SyncDirRequest) (*SyncDirResponse, error)

	// Release a previously-minted directory handle. The kernel calls this when
	// there are no more references to an open directory: all file descriptors
	// are closed and all memory mappings are unmapped.
	//
	// The kernel guarantees that the handle ID will not be used in further calls
	// to the file system (unless it is reissued by the file system).
	ReleaseDirHandle(
		ctx context.Context,
		req *ReleaseDirHandleRequest) (*ReleaseDirHandleResponse, error)

	///////////////////////////////////
	// File handles
	///////////////////////////////////

	// Open a file inode.
	//
	// On Linux the kernel calls this method when setting up a struct file for a
	// particular inode with type file, usually in response to an open(2) call
	// from a user-space process. On OS X it may not be called for every open(2)
	// (cf.https://github.com/osxfuse/osxfuse/issues/199).
	OpenFile(
		ctx context.Context,
		req *OpenFileRequest) (*OpenFileResponse, error)

	// Read data from a file previously opened with CreateFile or OpenFile.
	//
	// Note that this method is not called for every call to read(2) by the end
	// user; some reads may be served by the page cache. See notes on Write for
	// more.
	ReadFile(
		ctx context.Context,
		req *ReadFileRequest) (*ReadFileResponse, error)

	// Write data to a file previously opened with CreateFile or OpenFile.
	//
	// When the user writes data using write(2), the write goes into the page
	// cache and the page is marked dirty. Later the kernel may write back the
	// page via the FUSE VFS layer, causing this method to be called:
	//
	//  *  The kernel calls address_space_operations::writepage when a dirty page
	//     needs to be written to backing store (cf. http://goo.gl/Ezbewg). Fuse
	//     sets this to fuse_writepage (cf. http://goo.gl/IeNvLT).
	//
	//  *  (http://goo.gl/Eestuy) fuse_writepage calls fuse_writepage_locked.
	//
	//  *  (http://goo.gl/RqYIxY) fuse_writepage_locked makes a write request to
	//     the userspace server.
	//
	// Note that writes *will* be received before a call to Flush when closing
	// the file descriptor to which they were written:
	//
	//  *  (http://goo.gl/PheZjf) fuse_flush calls write_inode_now, which appears
	//     to start a writeback in the background (it talks about a "flusher
	//     thread").
	//
	//  *  (http://goo.gl/1IiepM) fuse_flush then calls fuse_sync_writes, which
	//     "[waits] for all pending writepages on the inode to finish".
	//
	//  *  (http://goo.gl/zzvxWv) Only then does fuse_flush finally send the
	//     flush request.
	//
	WriteFile(
		ctx context.Context,
		req *WriteFileRequest) (*WriteFileResponse, error)

	// Copy a range of bytes from one open file to another within the same
	// mount, in response to copy_file_range(2), without the data passing
	// through the page cache or across the FUSE channel twice.
	CopyFileRange(
		ctx context.Context,
		req *CopyFileRangeRequest) (*CopyFileRangeResponse, error)

	// Preallocate or punch a hole in a file, in response to fallocate(2).
	Fallocate(
		ctx context.Context,
		req *FallocateRequest) (*FallocateResponse, error)

	// Reposition a file's offset past the end of data or a hole, in response
	// to lseek(2) with SEEK_DATA or SEEK_HOLE.
	Lseek(
		ctx context.Context,
		req *LseekRequest) (*LseekResponse, error)

	// Synchronize the current contents of an open file to storage.
	//
	// vfs.txt documents this as being called for by the fsync(2) system call
	// (cf. http://goo.gl/j9X8nB). Code walk for that case:
	//
	//  *  (http://goo.gl/IQkWZa) sys_fsync calls do_fsync, calls vfs_fsync, calls
	//     vfs_fsync_range.
	//  *  (http://goo.gl/5L2SMy) vfs_fsync_range calls f_op->fsync.
	//
	// Note that this is also called by fdatasync(2) (cf. http://goo.gl/01R7rF).
	//
	// See also: FlushFile, which may perform a similar purpose when closing a
	// file (but which is not used in "real" file systems).
	SyncFile(
		ctx context.Context,
		req *SyncFileRequest) (*SyncFileResponse, error)

	// Flush the current state of an open file to storage upon closing a file
	// descriptor.
	//
	// vfs.txt documents this as being called for each close(2) system call (cf.
	// http://goo.gl/FSkbrq). Code walk for that case:
	//
	//  *  (http://goo.gl/e3lv0e) sys_close calls __close_fd, calls filp_close.
	//  *  (http://goo.gl/nI8fxD) filp_close calls f_op->flush (fuse_flush).
	//
	// But note that this is also called in other contexts where a file
	// descriptor is closed, such as dup2(2) (cf. http://goo.gl/NQDvFS). In the
	// case of close(2), a flush error is returned to the user. For dup2(2), it
	// is not.
	//
	// Because of cases like dup2(2), calls to FlushFile are not necessarily one
	// to one with calls to OpenFile. They should not be used for reference
	// counting, and the handle must remain valid even after the method is called
	// (use ReleaseFileHandle to dispose of it).
	//
	// Typical "real" file systems do not implement this, presumably relying on
	// the kernel to write out the page cache to the block device eventually.
	// They can get away with this because a later open(2) will see the same
	// data. A file system that writes to remote storage however probably wants
	// to at least schedule a real flush, and maybe do it immediately in order to
	// return any errors that occur.
	FlushFile(
		ctx context.Context,
		req *FlushFileRequest) (*FlushFileResponse, error)

	// Release a previously-minted file handle. The kernel calls this when there
	// are no more references to an open file: all file descriptors are closed
	// and all memory mappings are unmapped.
	//
	// The kernel guarantees that the handle ID will not be used in further calls
	// to the file system (unless it is reissued by the file system).
	//
	// If flock-style locks are still held on the handle, the request's
	// ReleaseFileHandleRequest.FlockRelease is set; this package releases
	// nothing itself.
	ReleaseFileHandle(
		ctx context.Context,
		req *ReleaseFileHandleRequest) (*ReleaseFileHandleResponse, error)

	///////////////////////////////////
	// Miscellaneous
	///////////////////////////////////

	// Answer a statfs(2)/statvfs(2) query about the file system as a whole.
	StatFS(
		ctx context.Context,
		req *StatFSRequest) (*StatFSResponse, error)

	// Check whether the calling process would be allowed the given access to
	// an inode, in response to access(2). Only called when the mount doesn't
	// use the kernel's default permission checking, which this package always
	// requests; file systems built with this package therefore do not need a
	// real implementation and may simply return success.
	CheckAccess(
		ctx context.Context,
		req *CheckAccessRequest) (*CheckAccessResponse, error)
}

////////////////////////////////////////////////////////////////////////
// Simple types
////////////////////////////////////////////////////////////////////////

// Re-exported here for convenience so that callers implementing FileSystem
// don't need a second import for the handful of value types the session core
// and the file system share.
type (
	InodeID          = fuseops.InodeID
	GenerationNumber = fuseops.GenerationNumber
	HandleID         = fuseops.HandleID
	DirOffset        = fuseops.DirOffset
	InodeAttributes  = fuseops.InodeAttributes
	ChildInodeEntry  = fuseops.ChildInodeEntry
	FileLockType     = fuseops.FileLockType
	FileLock         = fuseops.FileLock
)

const RootInodeID = fuseops.RootInodeID

// Flags as supplied to open(2), mknod(2), and friends. These are the raw
// flag bits the kernel sends; unlike bazil.org/fuse's OpenFlags this type
// carries no platform-specific String method, since this package targets
// Linux only.
type OpenFlags uint32

// A header that is included with every request.
type RequestHeader struct {
	// Credentials information for the process making the request.
	Uid uint32
	Gid uint32

	// The process ID of the process making the request, as seen from the
	// kernel's PID namespace (not necessarily the caller's).
	Pid uint32
}

////////////////////////////////////////////////////////////////////////
// Requests and responses
////////////////////////////////////////////////////////////////////////

type InitRequest struct {
	Header RequestHeader
}

type InitResponse struct {
}

type LookUpInodeRequest struct {
	Header RequestHeader

	// The ID of the directory inode to which the child belongs.
	Parent InodeID

	// The name of the child of interest, relative to the parent. For example, in
	// this directory structure:
	//
	//     foo/
	//         bar/
	//             baz
	//
	// the file system may receive a request to look up the child named "bar" for
	// the parent foo/.
	Name string
}

type LookUpInodeResponse struct {
	Entry ChildInodeEntry
}

type GetInodeAttributesRequest struct {
	Header RequestHeader

	// The inode of interest.
	Inode InodeID
}

type GetInodeAttributesResponse struct {
	// Attributes for the inode, and the time at which they should expire. See
	// notes on ChildInodeEntry.AttributesExpiration for more.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

type SetInodeAttributesRequest struct {
	Header RequestHeader

	// The inode of interest.
	Inode InodeID

	// The attributes to modify, or nil for attributes that don't need a change.
	Size  *uint64
	Mode  *os.FileMode
	Atime *time.Time
	Mtime *time.Time
}

type SetInodeAttributesResponse struct {
	// The new attributes for the inode, and the time at which they should
	// expire. See notes on ChildInodeEntry.AttributesExpiration for more.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

type ForgetInodeRequest struct {
	Header RequestHeader

	// The inode to be forgotten. The kernel guarantees that the node ID will not
	// be used in further calls to the file system (unless it is reissued by the
	// file system).
	ID InodeID
}

type ForgetInodeResponse struct {
}

// One inode/count pair within a BatchForgetInodeRequest.
type ForgetInodeEntry struct {
	ID InodeID

	// The number of lookup references to drop for ID; normally 1, but may be
	// higher when the kernel has coalesced several Forgets.
	N uint64
}

type BatchForgetInodeRequest struct {
	Header RequestHeader
	Entries []ForgetInodeEntry
}

type BatchForgetInodeResponse struct {
}

type ReadSymlinkRequest struct {
	Header RequestHeader
	Inode  InodeID
}

type ReadSymlinkResponse struct {
	Target string
}

type MkDirRequest struct {
	Header RequestHeader

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode
}

type MkDirResponse struct {
	// Information about the inode that was created.
	Entry ChildInodeEntry
}

type MkNodeRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Mode   os.FileMode

	// The device number, meaningful only when Mode describes a block or
	// character device.
	Rdev uint32
}

type MkNodeResponse struct {
	Entry ChildInodeEntry
}

type CreateFileRequest struct {
	Header RequestHeader

	// The ID of parent directory inode within which to create the child file.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// Flags for the open operation.
	Flags OpenFlags
}

type CreateFileResponse struct {
	// Information about the inode that was created.
	Entry ChildInodeEntry

	// An opaque ID that will be echoed in follow-up calls for this file using
	// the same struct file in the kernel. In practice this usually means
	// follow-up calls using the file descriptor returned by open(2).
	//
	// The handle may be supplied to the following methods:
	//
	//  *  ReadFile
	//  *  WriteFile
	//  *  ReleaseFileHandle
	//
	// The file system must ensure this ID remains valid until a later call to
	// ReleaseFileHandle.
	Handle HandleID
}

type CreateSymlinkRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string
	Target string
}

type CreateSymlinkResponse struct {
	Entry ChildInodeEntry
}

type CreateLinkRequest struct {
	Header RequestHeader
	Parent InodeID
	Name   string

	// The inode to link to. Must already exist within the same file system.
	Target InodeID
}

type CreateLinkResponse struct {
	Entry ChildInodeEntry
}

type RmDirRequest struct {
	Header RequestHeader

	// The ID of parent directory inode, and the name of the directory being
	// removed within it.
	Parent InodeID
	Name   string
}

type RmDirResponse struct {
}

type UnlinkRequest struct {
	Header RequestHeader

	// The ID of parent directory inode, and the name of the file being removed
	// within it.
	Parent InodeID
	Name   string
}

type UnlinkResponse struct {
}

// Covers both the classic rename(2) (no Flags) and renameat2(2) with
// RENAME_NOREPLACE/RENAME_EXCHANGE/RENAME_WHITEOUT (Flags set).
type RenameRequest struct {
	Header RequestHeader

	OldParent InodeID
	OldName   string
	NewParent InodeID
	NewName   string

	// renameat2(2) flags; zero for a plain rename(2).
	NoReplace bool
	Exchange  bool
	Whiteout  bool
}

type RenameResponse struct {
}

type GetXattrRequest struct {
	Header RequestHeader
	Inode  InodeID
	Name   string

	// The size of the buffer the kernel is willing to accept. If zero, the
	// file system should respond with only the size of the value, in
	// GetXattrResponse.BytesNeeded, and leave Xattr empty.
	Size uint32
}

type GetXattrResponse struct {
	Xattr []byte

	// Must be set to len(Xattr) when Size in the request was zero, and to
	// zero otherwise (the response data is then exactly Xattr).
	BytesNeeded int
}

type ListXattrRequest struct {
	Header RequestHeader
	Inode  InodeID

	// The size of the buffer the kernel is willing to accept; see
	// GetXattrRequest.Size.
	Size uint32
}

type ListXattrResponse struct {
	// A sequence of NUL-terminated attribute names.
	Xattr       []byte
	BytesNeeded int
}

type SetXattrRequest struct {
	Header RequestHeader
	Inode  InodeID
	Name   string
	Value  []byte

	// setxattr(2) flags: XATTR_CREATE or XATTR_REPLACE, or zero.
	Flags uint32
}

type SetXattrResponse struct {
}

type RemoveXattrRequest struct {
	Header RequestHeader
	Inode  InodeID
	Name   string
}

type RemoveXattrResponse struct {
}

type GetLkRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Lock   FileLock
}

type GetLkResponse struct {
	Lock FileLock
}

type SetLkRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Lock   FileLock

	// True for flock(2)-style whole-file advisory locks (LOCK_EX/LOCK_SH),
	// false for fcntl(2) F_SETLK/F_SETLKW byte-range locks.
	Flock bool
}

type SetLkResponse struct {
}

type OpenDirRequest struct {
	Header RequestHeader

	// The ID of the inode to be opened.
	Inode InodeID

	// Mode and options flags.
	Flags OpenFlags
}

type OpenDirResponse struct {
	// An opaque ID that will be echoed in follow-up calls for this directory
	// using the same struct file in the kernel. In practice this usually means
	// follow-up calls using the file descriptor returned by open(2).
	//
	// The handle may be supplied to the following methods:
	//
	//  *  ReadDir
	//  *  ReleaseDirHandle
	//
	// The file system must ensure this ID remains valid until a later call to
	// ReleaseDirHandle.
	Handle HandleID
}

type ReadDirRequest struct {
	Header RequestHeader

	// The directory inode that we are reading, and the handle previously
	// returned by OpenDir when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset within the directory at which to read.
	//
	// Warning: this field is not necessarily a count of bytes. Its legal values
	// are defined by the results returned in ReadDirResponse. See the notes
	// below and the notes on that struct.
	//
	// In the Linux kernel this ultimately comes from file::f_pos, which starts
	// at zero and is set by llseek and by the final consumed result returned by
	// each call to ReadDir:
	//
	//  *  (http://goo.gl/2nWJPL) iterate_dir, which is called by getdents(2) and
	//     readdir(2), sets dir_context::pos to file::f_pos before calling
	//     f_op->iterate, and then does the opposite assignment afterward.
	//
	//  *  (http://goo.gl/rTQVSL) fuse_readdir, which implements iterate for fuse
	//     directories, passes dir_context::pos as the offset to fuse_read_fill,
	//     which passes it on to user-space. fuse_readdir later calls
	//     parse_dirfile with the same context.
	//
	//  *  (http://goo.gl/vU5ukv) For each returned result (except perhaps the
	//     last, which may be truncated by the page boundary), parse_dirfile
	//     updates dir_context::pos with fuse_dirent::off.
	//
	// It is affected by the Posix directory stream interfaces in the following
	// manner:
	//
	//  *  (http://goo.gl/fQhbyn, http://goo.gl/ns1kDF) opendir initially causes
	//     filepos to be set to zero.
	//
	//  *  (http://goo.gl/ezNKyR, http://goo.gl/xOmDv0) readdir allows the user
	//     to iterate through the directory one entry at a time. As each entry is
	//     consumed, its d_off field is stored in __dirstream::filepos.
	//
	//  *  (http://goo.gl/WEOXG8, http://goo.gl/rjSXl3) telldir allows the user
	//     to obtain the d_off field from the most recently returned entry.
	//
	//  *  (http://goo.gl/WG3nDZ, http://goo.gl/Lp0U6W) seekdir allows the user
	//     to seek backward to an offset previously returned by telldir. It
	//     stores the new offset in filepos, and calls llseek to update the
	//     kernel's struct file.
	//
	//  *  (http://goo.gl/gONQhz, http://goo.gl/VlrQkc) rewinddir allows the user
	//     to go back to the beginning of the directory, obtaining a fresh view.
	//     It updates filepos and calls llseek to update the kernel's struct
	//     file.
	//
	// Unfortunately, FUSE offers no way to intercept seeks
	// (http://goo.gl/H6gEXa), so there is no way to cause seekdir or rewinddir
	// to fail. Additionally, there is no way to distinguish an explicit
	// rewinddir followed by readdir from the initial readdir, or a rewinddir
	// from a seekdir to the value returned by telldir just after opendir.
	//
	// Luckily, Posix is vague about what the user will see if they seek
	// backwards, and requires the user not to seek to an old offset after a
	// rewind. The only requirement on freshness is that rewinddir results in
	// something that looks like a newly-opened directory. So FUSE file systems
	// may e.g. cache an entire fresh listing for each ReadDir with a zero
	// offset, and return array offsets into that cached listing.
	Offset DirOffset

	// The maximum number of bytes to return in ReadDirResponse.Data. A smaller
	// number is acceptable.
	Size int
}

type ReadDirResponse struct {
	// A buffer consisting of a sequence of FUSE directory entries in the format
	// generated by fuse_add_direntry (http://goo.gl/qCcHCV), which is consumed
	// by parse_dirfile (http://goo.gl/2WUmD2). Use fuseutil.WriteDirent to
	// generate this data.
	//
	// The buffer must not exceed the length specified in ReadDirRequest.Size. It
	// is okay for the final entry to be truncated; parse_dirfile copes with this
	// by ignoring the partial record.
	//
	// Each entry returned exposes a directory offset to the user that may later
	// show up in ReadDirRequest.Offset. See notes on that field for more
	// information.
	//
	// An empty buffer indicates the end of the directory has been reached.
	Data []byte
}

// As ReadDirRequest, but for the READDIRPLUS variant.
type ReadDirPlusRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Offset DirOffset
	Size   int
}

// One entry as returned by ReadDirPlus: a plain directory entry plus the
// ChildInodeEntry the kernel would otherwise have to ask for separately via
// LookUpInode.
type DirentPlus struct {
	Dirent fuseops.Dirent
	Entry  ChildInodeEntry
}

type ReadDirPlusResponse struct {
	Entries []DirentPlus
}

type SyncDirRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID

	// True if only the directory's data, and not its metadata, needs to be
	// flushed (fdatasync(2) semantics).
	DataOnly bool
}

type SyncDirResponse struct {
}

type ReleaseDirHandleRequest struct {
	Header RequestHeader

	// The handle ID to be released. The kernel guarantees that this ID will not
	// be used in further calls to the file system (unless it is reissued by the
	// file system).
	Handle HandleID
}

type ReleaseDirHandleResponse struct {
}

type OpenFileRequest struct {
	Header RequestHeader

	// The ID of the inode to be opened.
	Inode InodeID

	// Mode and options flags.
	Flags OpenFlags
}

type OpenFileResponse struct {
	// An opaque ID that will be echoed in follow-up calls for this file using
	// the same struct file in the kernel. In practice this usually means
	// follow-up calls using the file descriptor returned by open(2).
	//
	// The handle may be supplied to the following methods:
	//
	//  *  ReadFile
	//  *  WriteFile
	//  *  ReleaseFileHandle
	//
	// The file system must ensure this ID remains valid until a later call to
	// ReleaseFileHandle.
	Handle HandleID

	// If false, the kernel is told to bypass the page cache for this handle
	// (FOPEN_DIRECT_IO), so every read(2)/write(2) reaches ReadFile/WriteFile.
	// If true, that flag is not set. FOPEN_KEEP_CACHE is never sent.
	KeepPageCache bool
}

type ReadFileRequest struct {
	Header RequestHeader

	// The file inode that we are reading, and the handle previously returned by
	// CreateFile or OpenFile when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The range of the file to read.
	//
	// The FUSE documentation requires that exactly the number of bytes be
	// returned, except in the case of EOF or error (http://goo.gl/ZgfBkF). This
	// appears to be because it uses file mmapping machinery
	// (http://goo.gl/SGxnaN) to read a page at a time. It appears to understand
	// where EOF is by checking the inode size (http://goo.gl/0BkqKD), returned
	// by a previous call to LookUpInode, GetInodeAttributes, etc.
	Offset int64
	Size   int
}

type ReadFileResponse struct {
	// The data read. If this is less than the requested size, it indicates EOF.
	// An error should not be returned in this case.
	Data []byte
}

type WriteFileRequest struct {
	Header RequestHeader

	// The file inode that we are modifying, and the handle previously returned
	// by CreateFile or OpenFile when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset at which to write the data below.
	//
	// The man page for pwrite(2) implies that aside from changing the file
	// handle's offset, using pwrite is equivalent to using lseek(2) and then
	// write(2). The man page for lseek(2) says the following:
	//
	// "The lseek() function allows the file offset to be set beyond the end of
	// the file (but this does not change the size of the file). If data is later
	// written at this point, subsequent reads of the data in the gap (a "hole")
	// return null bytes (aq\0aq) until data is actually written into the gap."
	//
	// It is therefore reasonable to assume that the kernel is looking for
	// the following semantics:
	//
	// *   If the offset is less than or equal to the current size, extend the
	//     file as necessary to fit any data that goes past the end of the file.
	//
	// *   If the offset is greater than the current size, extend the file
	//     with null bytes until it is not, then do the above.
	//
	Offset int64

	// The data to write.
	//
	// The FUSE documentation requires that exactly the number of bytes supplied
	// be written, except on error (http://goo.gl/KUpwwn). This appears to be
	// because it uses file mmapping machinery (http://goo.gl/SGxnaN) to write a
	// page at a time.
	Data []byte
}

type WriteFileResponse struct {
}

type CopyFileRangeRequest struct {
	Header RequestHeader

	InInode   InodeID
	InHandle  HandleID
	InOffset  int64
	OutInode  InodeID
	OutHandle HandleID
	OutOffset int64
	Len       uint64
	Flags     uint64
}

type CopyFileRangeResponse struct {
	// The number of bytes actually copied.
	N uint32
}

type FallocateRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Offset uint64
	Length uint64

	// fallocate(2) mode bits: FALLOC_FL_KEEP_SIZE, FALLOC_FL_PUNCH_HOLE, etc.
	Mode uint32
}

type FallocateResponse struct {
}

type LseekRequest struct {
	Header RequestHeader
	Inode  InodeID
	Handle HandleID
	Offset int64

	// Whence is either SEEK_DATA or SEEK_HOLE (SEEK_SET/CUR/END never reach
	// the file system; the kernel resolves those itself).
	Whence int32
}

type LseekResponse struct {
	Offset int64
}

type SyncFileRequest struct {
	Header RequestHeader

	// The file and handle being sync'd.
	Inode  InodeID
	Handle HandleID
}

type SyncFileResponse struct {
}

type FlushFileRequest struct {
	Header RequestHeader

	// The file and handle being flushed.
	Inode  InodeID
	Handle HandleID
}

type FlushFileResponse struct {
}

type ReleaseFileHandleRequest struct {
	Header RequestHeader

	// The handle ID to be released. The kernel guarantees that this ID will not
	// be used in further calls to the file system (unless it is reissued by the
	// file system).
	Handle HandleID

	// True if the kernel held a BSD flock(2) lock on this handle that must now
	// be released as a side effect of the close.
	FlockRelease bool
}

type ReleaseFileHandleResponse struct {
}

type StatFSRequest struct {
	Header RequestHeader
}

type StatFSResponse struct {
	// Values to report via statfs(2)/statvfs(2). Leave at the zero value for
	// fields the file system doesn't model (e.g. an in-memory file system
	// reporting a synthetic block count).
	BlockSize  uint32
	Blocks     uint64
	BlocksFree uint64
	BlocksAvail uint64
	Files      uint64
	FilesFree  uint64
	IoSize     uint32
	NameLength uint32
}

type CheckAccessRequest struct {
	Header RequestHeader
	Inode  InodeID

	// The access(2) mode bits being checked: some combination of R_OK, W_OK,
	// X_OK, or F_OK.
	Mask uint32
}

type CheckAccessResponse struct {
}
