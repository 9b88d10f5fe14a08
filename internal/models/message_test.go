package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailmirror/mailmirror/internal/enum"
)

func TestUID_LocalBit(t *testing.T) {
	assert.False(t, UID(1).IsLocal())
	assert.False(t, UID(1<<62).IsLocal())

	local := NewLocalUID(1)
	assert.True(t, local.IsLocal())
	assert.NotEqual(t, UID(1), local)
}

func TestFlagSet_Diff(t *testing.T) {
	a := NewFlagSet(enum.FlagSeen, enum.FlagFlagged)
	b := NewFlagSet(enum.FlagSeen, enum.FlagAnswered)

	added, removed := a.Diff(b)
	assert.True(t, added.Equal(NewFlagSet(enum.FlagFlagged)))
	assert.True(t, removed.Equal(NewFlagSet(enum.FlagAnswered)))

	added, removed = a.Diff(a)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestFlagSet_Equal(t *testing.T) {
	a := NewFlagSet(enum.FlagSeen, enum.FlagDraft)
	b := NewFlagSet(enum.FlagDraft, enum.FlagSeen)
	assert.True(t, a.Equal(b))

	b.Add(enum.FlagDeleted)
	assert.False(t, a.Equal(b))
}

func TestFlagSet_CloneIsIndependent(t *testing.T) {
	a := NewFlagSet(enum.FlagSeen)
	b := a.Clone()
	b.Add(enum.FlagFlagged)

	assert.False(t, a.Has(enum.FlagFlagged))
	assert.True(t, b.Has(enum.FlagSeen))
}

func TestFlagSet_StringRoundtrip(t *testing.T) {
	fs := NewFlagSet(enum.FlagSeen, enum.FlagAnswered, enum.FlagDraft)
	assert.Equal(t, "answered,draft,seen", fs.String())

	parsed := ParseFlagSet(fs.String())
	assert.True(t, parsed.Equal(fs))

	assert.Empty(t, ParseFlagSet(""))
	// Unknown names are dropped, not fatal.
	assert.True(t, ParseFlagSet("seen,bogus").Equal(NewFlagSet(enum.FlagSeen)))
}

func TestCopyMessageList(t *testing.T) {
	in := map[UID]FlagSet{
		1: NewFlagSet(enum.FlagSeen),
		2: NewFlagSet(),
	}
	out := CopyMessageList(in)
	out[1].Add(enum.FlagFlagged)

	assert.False(t, in[1].Has(enum.FlagFlagged))
	assert.Len(t, out, 2)
}
