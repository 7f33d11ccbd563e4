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

// Package fusekernel defines the wire structures shared with the Linux FUSE
// kernel driver: the fixed header layouts, per-opcode argument and reply
// structs, and the flag/opcode enumerations. Nothing in this package has
// behavior; it is a data contract with an external, unversioned-by-us kernel
// ABI, matched bit-for-bit on the host architecture.
package fusekernel

import "unsafe"

// Protocol is a (major, minor) FUSE protocol version pair.
type Protocol struct {
	Major uint32
	Minor uint32
}

func (p Protocol) String() string {
	return itoa(p.Major) + "." + itoa(p.Minor)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// LT reports whether p is strictly older than other.
func (p Protocol) LT(other Protocol) bool {
	return p.Major < other.Major ||
		(p.Major == other.Major && p.Minor < other.Minor)
}

// GE reports whether p is at least as new as other.
func (p Protocol) GE(other Protocol) bool {
	return !p.LT(other)
}

// The protocol version implemented by this package, and the floor below
// which the session refuses to start (EPROTO).
const (
	ProtoVersionMinMajor = 7
	ProtoVersionMinMinor = 6

	ProtoVersionMaxMajor = 7
	ProtoVersionMaxMinor = 31
)

// MaxWriteSize bounds the negotiated max_write the session will ever report,
// regardless of what the kernel's max_readahead suggests.
const MaxWriteSize = 16 * 1024 * 1024

// Opcode identifies the kind of an inbound request.
type Opcode uint32

const (
	OpLookup      Opcode = 1
	OpForget      Opcode = 2 // no reply
	OpGetattr     Opcode = 3
	OpSetattr     Opcode = 4
	OpReadlink    Opcode = 5
	OpSymlink     Opcode = 6
	OpMknod       Opcode = 8
	OpMkdir       Opcode = 9
	OpUnlink      Opcode = 10
	OpRmdir       Opcode = 11
	OpRename      Opcode = 12
	OpLink        Opcode = 13
	OpOpen        Opcode = 14
	OpRead        Opcode = 15
	OpWrite       Opcode = 16
	OpStatfs      Opcode = 17
	OpRelease     Opcode = 18
	OpFsync       Opcode = 20
	OpSetxattr    Opcode = 21
	OpGetxattr    Opcode = 22
	OpListxattr   Opcode = 23
	OpRemovexattr Opcode = 24
	OpFlush       Opcode = 25
	OpInit        Opcode = 26
	OpOpendir     Opcode = 27
	OpReaddir     Opcode = 28
	OpReleasedir  Opcode = 29
	OpFsyncdir    Opcode = 30
	OpGetlk       Opcode = 31
	OpSetlk       Opcode = 32
	OpSetlkw      Opcode = 33
	OpAccess      Opcode = 34
	OpCreate      Opcode = 35
	OpInterrupt   Opcode = 36
	OpBmap        Opcode = 37
	OpDestroy     Opcode = 38
	OpIoctl       Opcode = 39
	OpPoll        Opcode = 40
	OpNotifyReply Opcode = 41
	OpBatchForget Opcode = 42
	OpFallocate   Opcode = 43
	OpReaddirplus Opcode = 44
	OpRename2     Opcode = 45
	OpLseek       Opcode = 46
	OpCopyFileRange Opcode = 47

	// CUSE-only and outside spec scope, named here only because they share
	// the opcode space and must not collide; never dispatched.
	opCuseInit Opcode = 4096
)

func (o Opcode) String() string {
	switch o {
	case OpLookup:
		return "LOOKUP"
	case OpForget:
		return "FORGET"
	case OpGetattr:
		return "GETATTR"
	case OpSetattr:
		return "SETATTR"
	case OpReadlink:
		return "READLINK"
	case OpSymlink:
		return "SYMLINK"
	case OpMknod:
		return "MKNOD"
	case OpMkdir:
		return "MKDIR"
	case OpUnlink:
		return "UNLINK"
	case OpRmdir:
		return "RMDIR"
	case OpRename:
		return "RENAME"
	case OpLink:
		return "LINK"
	case OpOpen:
		return "OPEN"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpStatfs:
		return "STATFS"
	case OpRelease:
		return "RELEASE"
	case OpFsync:
		return "FSYNC"
	case OpSetxattr:
		return "SETXATTR"
	case OpGetxattr:
		return "GETXATTR"
	case OpListxattr:
		return "LISTXATTR"
	case OpRemovexattr:
		return "REMOVEXATTR"
	case OpFlush:
		return "FLUSH"
	case OpInit:
		return "INIT"
	case OpOpendir:
		return "OPENDIR"
	case OpReaddir:
		return "READDIR"
	case OpReleasedir:
		return "RELEASEDIR"
	case OpFsyncdir:
		return "FSYNCDIR"
	case OpGetlk:
		return "GETLK"
	case OpSetlk:
		return "SETLK"
	case OpSetlkw:
		return "SETLKW"
	case OpAccess:
		return "ACCESS"
	case OpCreate:
		return "CREATE"
	case OpInterrupt:
		return "INTERRUPT"
	case OpBmap:
		return "BMAP"
	case OpDestroy:
		return "DESTROY"
	case OpIoctl:
		return "IOCTL"
	case OpPoll:
		return "POLL"
	case OpNotifyReply:
		return "NOTIFY_REPLY"
	case OpBatchForget:
		return "BATCH_FORGET"
	case OpFallocate:
		return "FALLOCATE"
	case OpReaddirplus:
		return "READDIRPLUS"
	case OpRename2:
		return "RENAME2"
	case OpLseek:
		return "LSEEK"
	case OpCopyFileRange:
		return "COPY_FILE_RANGE"
	}
	return "OPCODE_" + itoa(uint32(o))
}

// NotifyCode tags outbound notification frames (unique == 0).
type NotifyCode int32

const (
	NotifyCodePoll        NotifyCode = 1
	NotifyCodeInvalInode  NotifyCode = 2
	NotifyCodeInvalEntry  NotifyCode = 3
	NotifyCodeStore       NotifyCode = 4
	NotifyCodeRetrieve    NotifyCode = 5
	NotifyCodeDelete      NotifyCode = 6
)

// InHeader is the 40-byte header prefixing every inbound frame.
type InHeader struct {
	Len     uint32
	Opcode  Opcode
	Unique  uint64
	Nodeid  uint64
	Uid     uint32
	Gid     uint32
	Pid     uint32
	Padding uint32
}

// OutHeader is the 16-byte header prefixing every outbound frame. Error is a
// negative errno on failure, 0 on success, or (cast from NotifyCode) a
// notification tag when Unique == 0.
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// InitIn is the argument struct of an INIT request.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

const initInSize = int(unsafe.Sizeof(InitIn{}))

// InitFlags are capability bits negotiated during INIT.
type InitFlags uint32

const (
	InitAsyncRead        InitFlags = 1 << 0
	InitPosixLocks       InitFlags = 1 << 1
	InitFileOps          InitFlags = 1 << 2
	InitAtomicOTrunc     InitFlags = 1 << 3
	InitExportSupport    InitFlags = 1 << 4
	InitBigWrites        InitFlags = 1 << 5
	InitDontMask         InitFlags = 1 << 6
	InitSpliceWrite      InitFlags = 1 << 7
	InitSpliceMove       InitFlags = 1 << 8
	InitSpliceRead       InitFlags = 1 << 9
	InitFlockLocks       InitFlags = 1 << 10
	InitHasIoctlDir      InitFlags = 1 << 11
	InitAutoInvalData    InitFlags = 1 << 12
	InitDoReaddirplus    InitFlags = 1 << 13
	InitReaddirplusAuto  InitFlags = 1 << 14
	InitAsyncDIO         InitFlags = 1 << 15
	InitWritebackCache   InitFlags = 1 << 16
	InitNoOpenSupport    InitFlags = 1 << 17
	InitParallelDirOps   InitFlags = 1 << 18
	InitHandleKillpriv   InitFlags = 1 << 19
	InitPosixACL         InitFlags = 1 << 20
	InitAbortError       InitFlags = 1 << 21
	InitMaxPages         InitFlags = 1 << 22
	InitCacheSymlinks    InitFlags = 1 << 23
	InitNoOpendirSupport InitFlags = 1 << 24
	InitAtomicTrunc      InitFlags = 1 << 29 // generalized "honor atomic O_TRUNC" bit used by the teacher
)

// InitOut is the reply struct of a successful INIT (non-zeroed path).
type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	Padding             uint16
	Unused              [8]uint32
}

// EntryOut is the reply struct for Lookup/Mkdir/Symlink/Mknod/Link/Create
// (the entry-creation family). The protocol-7.9+ fields (nodeid..generation)
// are always present; this package targets 7.6+ only and always emits the
// full struct, matching the teacher's EntryOutSize being constant.
type EntryOut struct {
	Nodeid         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

// EntryOutSize returns the wire size of EntryOut for the given protocol.
func EntryOutSize(p Protocol) uintptr {
	return unsafe.Sizeof(EntryOut{})
}

// Attr mirrors struct fuse_attr.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Blksize   uint32
	Padding   uint32
}

// AttrOut is the reply struct for Getattr/Setattr.
type AttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

// AttrOutSize returns the wire size of AttrOut for the given protocol.
func AttrOutSize(p Protocol) uintptr {
	return unsafe.Sizeof(AttrOut{})
}

// GetattrIn is the argument struct of a Getattr request.
type GetattrIn struct {
	GetattrFlags uint32
	Padding      uint32
	Fh           uint64
}

const (
	GetattrFh = 1 << 0
)

// SetattrIn is the argument struct of a Setattr request.
type SetattrIn struct {
	Valid     uint32
	Padding   uint32
	Fh        uint64
	Size      uint64
	LockOwner uint64
	Atime     uint64
	Mtime     uint64
	Unused2   uint64
	AtimeNsec uint32
	MtimeNsec uint32
	Unused3   uint32
	Mode      uint32
	Unused4   uint32
	Uid       uint32
	Gid       uint32
	Unused5   uint32
}

// Bits of SetattrIn.Valid.
const (
	SetattrMode    = 1 << 0
	SetattrUid     = 1 << 1
	SetattrGid     = 1 << 2
	SetattrSize    = 1 << 3
	SetattrAtime   = 1 << 4
	SetattrMtime   = 1 << 5
	SetattrHandle  = 1 << 6
	SetattrAtimeNow = 1 << 7
	SetattrMtimeNow = 1 << 8
	SetattrLockOwner = 1 << 9
)

// MkdirIn is the argument struct preceding the name for Mkdir.
type MkdirIn struct {
	Mode    uint32
	Umask   uint32
}

// MknodIn is the argument struct preceding the name for Mknod.
type MknodIn struct {
	Mode    uint32
	Rdev    uint32
	Umask   uint32
	Padding uint32
}

// RenameIn is the argument struct preceding "oldname\x00newname\x00" for
// Rename.
type RenameIn struct {
	Newdir uint64
}

// Rename2In is the argument struct preceding the two names for Rename2.
type Rename2In struct {
	Newdir  uint64
	Flags   uint32
	Padding uint32
}

const (
	RenameNoReplace = 1 << 0
	RenameExchange  = 1 << 1
	RenameWhiteout  = 1 << 2
)

// LinkIn is the argument struct preceding the name for Link.
type LinkIn struct {
	Oldnodeid uint64
}

// OpenIn is the argument struct of Open/Opendir.
type OpenIn struct {
	Flags  uint32
	Unused uint32
}

// OpenOut is the reply struct of Open/Opendir/Create.
type OpenOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

// Open reply flag bits.
const (
	FopenDirectIO   = 1 << 0
	FopenKeepCache  = 1 << 1
	FopenNonseekable = 1 << 2
	FopenCacheDir   = 1 << 3
)

// CreateIn is the argument struct preceding the name for Create.
type CreateIn struct {
	Flags   uint32
	Mode    uint32
	Umask   uint32
	Padding uint32
}

// ReadIn is the argument struct of Read/Readdir[plus].
type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

const ReadLockOwner = 1 << 1

// WriteIn is the argument struct of Write, immediately followed by the
// payload bytes.
type WriteIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
}

const (
	WriteCache     = 1 << 0
	WriteLockOwner = 1 << 1
)

// WriteOut is the reply struct of Write.
type WriteOut struct {
	Size    uint32
	Padding uint32
}

// ReleaseIn is the argument struct of Release/Releasedir.
type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

const (
	ReleaseFlush       = 1 << 0
	ReleaseFlockUnlock = 1 << 1
)

// FsyncIn is the argument struct of Fsync/Fsyncdir.
type FsyncIn struct {
	Fh         uint64
	FsyncFlags uint32
	Padding    uint32
}

const FsyncFdatasync = 1 << 0

// FlushIn is the argument struct of Flush.
type FlushIn struct {
	Fh         uint64
	Unused     uint32
	Padding    uint32
	LockOwner  uint64
}

// GetxattrIn is the argument struct preceding the name for Getxattr/Listxattr.
type GetxattrIn struct {
	Size    uint32
	Padding uint32
}

// GetxattrOut is the reply struct for a size-only Getxattr/Listxattr.
type GetxattrOut struct {
	Size    uint32
	Padding uint32
}

// SetxattrIn is the argument struct preceding "name\x00value" for Setxattr.
type SetxattrIn struct {
	Size  uint32
	Flags uint32
}

// LkIn is the shared argument struct of Getlk/Setlk/Setlkw.
type LkIn struct {
	Fh      uint64
	Owner   uint64
	Lk      FileLock
	LkFlags uint32
	Padding uint32
}

const LkFlock = 1 << 0

// LkOut is the reply struct of Getlk.
type LkOut struct {
	Lk FileLock
}

// FileLock mirrors struct fuse_file_lock.
type FileLock struct {
	Start uint64
	End   uint64
	Type  uint32
	Pid   uint32
}

// AccessIn is the argument struct of Access.
type AccessIn struct {
	Mask    uint32
	Padding uint32
}

// InterruptIn is the argument struct of Interrupt, naming the target
// request's unique id (not the Interrupt request's own header.Unique).
type InterruptIn struct {
	Unique uint64
}

// BmapIn is the argument struct of Bmap.
type BmapIn struct {
	Block     uint64
	Blocksize uint32
	Padding   uint32
}

// BmapOut is the reply struct of Bmap.
type BmapOut struct {
	Block uint64
}

// StatfsOut is the reply struct of Statfs.
type StatfsOut struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
	Padding uint32
	Spare   [6]uint32
}

// ForgetIn is the argument struct of Forget (single-entry form).
type ForgetIn struct {
	Nlookup uint64
}

// BatchForgetIn is the header preceding Count ForgetOne records.
type BatchForgetIn struct {
	Count   uint32
	Dummy   uint32
}

// ForgetOne is one record inside a BatchForget array.
type ForgetOne struct {
	Nodeid  uint64
	Nlookup uint64
}

// FallocateIn is the argument struct of Fallocate.
type FallocateIn struct {
	Fh      uint64
	Offset  uint64
	Length  uint64
	Mode    uint32
	Padding uint32
}

// LseekIn is the argument struct of Lseek.
type LseekIn struct {
	Fh      uint64
	Offset  uint64
	Whence  uint32
	Padding uint32
}

// LseekOut is the reply struct of Lseek.
type LseekOut struct {
	Offset uint64
}

// CopyFileRangeIn is the argument struct of CopyFileRange.
type CopyFileRangeIn struct {
	FhIn      uint64
	OffIn     uint64
	NodeidOut uint64
	FhOut     uint64
	OffOut    uint64
	Len       uint64
	Flags     uint64
}

// Dirent mirrors struct fuse_dirent, always followed by Namelen bytes of
// name and padding to an 8-byte boundary.
type Dirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}

// DirentAlign rounds n up to the dirent record alignment (8 bytes).
func DirentAlign(n int) int {
	const align = 8
	return (n + align - 1) &^ (align - 1)
}

// DirentSize is the fixed portion of a fuse_dirent record.
var DirentSize = int(unsafe.Sizeof(Dirent{}))

// NotifyInvalInodeOut is the payload of an INVAL_INODE notification.
type NotifyInvalInodeOut struct {
	Ino    uint64
	Off    int64
	Len    int64
}

// NotifyInvalEntryOut is the header preceding the child name for an
// INVAL_ENTRY notification.
type NotifyInvalEntryOut struct {
	Parent  uint64
	Namelen uint32
	Padding uint32
}

// NotifyDeleteOut is the header preceding the child name for a DELETE
// notification.
type NotifyDeleteOut struct {
	Parent  uint64
	Child   uint64
	Namelen uint32
	Padding uint32
}

// NotifyStoreOut is the header preceding the stored bytes for a STORE
// notification.
type NotifyStoreOut struct {
	Nodeid  uint64
	Offset  uint64
	Size    uint32
	Padding uint32
}

// NotifyRetrieveOut is the header the kernel echoes back (prefixed to
// nothing; it is itself the outbound struct) when the notifier asks the
// kernel to read back cached bytes.
type NotifyRetrieveOut struct {
	NotifyUnique uint64
	Nodeid       uint64
	Offset       uint64
	Size         uint32
	Padding      uint32
}

// NotifyRetrieveIn is the argument struct of an inbound NOTIFY_REPLY,
// correlated back to a NotifyRetrieveOut by NotifyUnique (carried in
// InHeader.Unique, not in this struct).
type NotifyRetrieveIn struct {
	Offset  uint64
	Size    uint32
	Padding uint32
}

// NotifyPollWakeupOut is the payload of a POLL wakeup notification.
type NotifyPollWakeupOut struct {
	Kh uint64
}

// IsPlatformFuseT reports whether the transport is fuse-t (macOS). It is
// always false on Linux; nothing in this module reads it.
const IsPlatformFuseT = false
