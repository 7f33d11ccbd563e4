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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrExternallyManagedMountPoint is wrapped into the error returned by
// unmount when dir looks like a /dev/fd/N mount point: those are handed to
// us already open by an external mount manager (e.g. rootlesskit), which
// owns tearing them down, so fusermount -u failing there isn't necessarily
// a problem the caller needs to act on.
var ErrExternallyManagedMountPoint = errors.New("fuse: mount point is externally managed")

// findFusermount locates the fusermount (or fusermount3, on newer
// distributions that dropped the unversioned name) setuid helper, which is
// the only thing on Linux allowed to call mount(2) with fstype "fuse".
func findFusermount() (string, error) {
	for _, name := range []string{"fusermount3", "fusermount"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{
		"/usr/bin/fusermount3",
		"/usr/bin/fusermount",
		"/bin/fusermount3",
		"/bin/fusermount",
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", errors.New("fuse: fusermount executable not found in PATH")
}

// parseFuseFd extracts the numeric descriptor from a /dev/fd/N path. Some
// mount point managers pass us an already-open /dev/fuse descriptor this
// way in place of a real mount point directory, bypassing fusermount
// entirely.
func parseFuseFd(path string) (int, error) {
	rest := strings.TrimPrefix(path, "/dev/fd/")
	if rest == path {
		return -1, fmt.Errorf("fuse: %q is not a /dev/fd path", path)
	}

	fd, err := strconv.Atoi(rest)
	if err != nil {
		return -1, fmt.Errorf("fuse: parsing fd from %q: %w", path, err)
	}
	if fd < 0 {
		return -1, fmt.Errorf("fuse: invalid fd %d in %q", fd, path)
	}

	return fd, nil
}

// mount obtains an open /dev/fuse file descriptor for dir, configured per
// cfg. If dir is a /dev/fd/N path the descriptor is used directly;
// otherwise fusermount is invoked to perform the privileged mount(2) and
// hand the descriptor back to us over a unix socketpair.
func mount(dir string, cfg *MountConfig) (*os.File, error) {
	if fd, err := parseFuseFd(dir); err == nil {
		return os.NewFile(uintptr(fd), "/dev/fuse"), nil
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	fusermount, err := findFusermount()
	if err != nil {
		return nil, err
	}

	local, remote, err := commSocketpair()
	if err != nil {
		return nil, err
	}
	defer local.Close()
	defer remote.Close()

	cmd := exec.Command(fusermount, "-o", strings.Join(mountOptions(cfg), ","), "--", absDir)
	cmd.Env = append(os.Environ(), "_FUSE_COMMFD=3")
	cmd.ExtraFiles = []*os.File{remote}
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("fuse: running fusermount: %w", err)
	}

	return receiveFuseFd(local)
}

// mountOptions assembles the fusermount -o option list from cfg.
func mountOptions(cfg *MountConfig) []string {
	subtype := cfg.Subtype
	if subtype == "" {
		subtype = "fuse"
	}

	options := []string{"default_permissions", "subtype=" + subtype}
	if cfg.FSName != "" {
		options = append(options, "fsname="+cfg.FSName)
	}
	if cfg.ReadOnly {
		options = append(options, "ro")
	}
	if cfg.AllowOther {
		options = append(options, "allow_other")
	}

	for k, v := range cfg.Options {
		if v == "" {
			options = append(options, k)
		} else {
			options = append(options, fmt.Sprintf("%s=%s", k, v))
		}
	}

	return options
}

// commSocketpair creates the unix domain socketpair fusermount uses to hand
// back the mounted /dev/fuse descriptor via SCM_RIGHTS.
func commSocketpair() (local, remote *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}

	local = os.NewFile(uintptr(fds[0]), "fuse-commfd-local")
	remote = os.NewFile(uintptr(fds[1]), "fuse-commfd-remote")
	return local, remote, nil
}

// receiveFuseFd reads the /dev/fuse descriptor fusermount sent over local
// as an SCM_RIGHTS ancillary message.
func receiveFuseFd(local *os.File) (*os.File, error) {
	buf := make([]byte, 4)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(int(local.Fd()), buf, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("fuse: receiving fd from fusermount: %w", err)
	}
	if n == 0 && oobn == 0 {
		return nil, errors.New("fuse: fusermount sent no data; mount likely failed")
	}

	messages, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("fuse: parsing control message: %w", err)
	}
	if len(messages) != 1 {
		return nil, fmt.Errorf("fuse: expected one control message, got %d", len(messages))
	}

	fds, err := unix.ParseUnixRights(&messages[0])
	if err != nil {
		return nil, fmt.Errorf("fuse: parsing unix rights: %w", err)
	}
	if len(fds) != 1 {
		return nil, fmt.Errorf("fuse: expected one fd, got %d", len(fds))
	}

	return os.NewFile(uintptr(fds[0]), "/dev/fuse"), nil
}
