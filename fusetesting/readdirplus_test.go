// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fusetesting_test

import (
	"os"
	"path"
	"testing"

	"github.com/jacobsa/fuse/fusetesting"
	. "github.com/jacobsa/ogletest"
)

func TestReadDirPlus(t *testing.T) { RunTests(t) }

type ReadDirPlusTest struct {
	dir string
}

func init() { RegisterTestSuite(&ReadDirPlusTest{}) }

func (t *ReadDirPlusTest) SetUp(ti *TestInfo) {
	var err error
	t.dir, err = os.MkdirTemp("", "readdirplus_test")
	AssertEq(nil, err)

	AssertEq(nil, os.WriteFile(path.Join(t.dir, "b"), []byte("b"), 0644))
	AssertEq(nil, os.WriteFile(path.Join(t.dir, "a"), []byte("a"), 0644))
	AssertEq(nil, os.Mkdir(path.Join(t.dir, "c"), 0755))
}

func (t *ReadDirPlusTest) TearDown() {
	os.RemoveAll(t.dir)
}

func (t *ReadDirPlusTest) ReturnsEntriesSortedByName() {
	entries, err := fusetesting.ReadDirPlusPicky(t.dir)
	AssertEq(nil, err)
	AssertEq(3, len(entries))

	ExpectEq("a", entries[0].Name())
	ExpectEq("b", entries[1].Name())
	ExpectEq("c", entries[2].Name())
	ExpectTrue(entries[2].IsDir())
}

func (t *ReadDirPlusTest) PropagatesMissingDirError() {
	_, err := fusetesting.ReadDirPlusPicky(path.Join(t.dir, "nonexistent"))
	ExpectNe(nil, err)
}
