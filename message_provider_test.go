// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuse_test

import (
	"testing"

	"github.com/jacobsa/fuse"
	. "github.com/jacobsa/ogletest"
)

func TestMessageProvider(t *testing.T) { RunTests(t) }

type MessageProviderTest struct {
	provider fuse.DefaultMessageProvider
}

func init() { RegisterTestSuite(&MessageProviderTest{}) }

func (t *MessageProviderTest) ReusesPutInMessages() {
	in := t.provider.GetInMessage()
	t.provider.PutInMessage(in)

	again := t.provider.GetInMessage()
	ExpectEq(in, again)
}

func (t *MessageProviderTest) ReusesPutOutMessages() {
	out := t.provider.GetOutMessage()
	t.provider.PutOutMessage(out)

	again := t.provider.GetOutMessage()
	ExpectEq(out, again)
}

func (t *MessageProviderTest) AllocatesWhenFreelistEmpty() {
	first := t.provider.GetInMessage()
	second := t.provider.GetInMessage()

	ExpectNe(first, second)
	AssertNe(nil, first)
	AssertNe(nil, second)
}

func (t *MessageProviderTest) InAndOutFreelistsAreIndependent() {
	in := t.provider.GetInMessage()
	out := t.provider.GetOutMessage()

	t.provider.PutInMessage(in)

	// Nothing was returned to the out freelist, so a fresh out message must
	// still be handed back here rather than the one already live in `out`.
	again := t.provider.GetOutMessage()
	ExpectNe(out, again)
}
