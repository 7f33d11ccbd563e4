// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fusetesting_test

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fusetesting"
	. "github.com/jacobsa/ogletest"
)

func TestStat(t *testing.T) { RunTests(t) }

type StatTest struct {
	path string
}

func init() { RegisterTestSuite(&StatTest{}) }

func (t *StatTest) SetUp(ti *TestInfo) {
	f, err := os.CreateTemp("", "stat_test")
	AssertEq(nil, err)
	t.path = f.Name()
	AssertEq(nil, f.Close())
}

func (t *StatTest) TearDown() {
	os.Remove(t.path)
}

func (t *StatTest) MatchesExactMtime() {
	expected := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	AssertEq(nil, os.Chtimes(t.path, expected, expected))

	fi, err := os.Stat(t.path)
	AssertEq(nil, err)

	ExpectThat(fi, fusetesting.MtimeIs(expected.Local()))
}

func (t *StatTest) RejectsWrongType() {
	m := fusetesting.MtimeIs(time.Now())
	err := m.Matches("not a FileInfo")
	ExpectNe(nil, err)
}

func (t *StatTest) DirEntry() {
	dir := path.Dir(t.path)
	fi, err := os.Stat(dir)
	AssertEq(nil, err)
	ExpectTrue(fi.IsDir())
}
