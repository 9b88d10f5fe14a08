package models

import (
	"sort"
	"strings"

	"github.com/mailmirror/mailmirror/internal/enum"
)

// UID identifies a message within one folder for the lifetime of a
// UID-validity epoch. UIDs assigned by the IMAP server occupy the low
// range; messages that exist only on disk and have never been uploaded
// carry a provisional UID with the local bit set until the server hands
// out a real one.
type UID uint64

const localUIDBit UID = 1 << 63

// NewLocalUID builds a provisional UID for a message the server does not
// know about yet.
func NewLocalUID(seq uint64) UID {
	return localUIDBit | UID(seq)
}

// IsLocal reports whether the UID is provisional (never uploaded).
func (u UID) IsLocal() bool {
	return u&localUIDBit != 0
}

// FlagSet is the set of flags attached to one message.
type FlagSet map[enum.Flag]struct{}

func NewFlagSet(flags ...enum.Flag) FlagSet {
	fs := make(FlagSet, len(flags))
	for _, f := range flags {
		fs[f] = struct{}{}
	}
	return fs
}

func (fs FlagSet) Has(f enum.Flag) bool {
	_, ok := fs[f]
	return ok
}

func (fs FlagSet) Add(f enum.Flag) {
	fs[f] = struct{}{}
}

func (fs FlagSet) Remove(f enum.Flag) {
	delete(fs, f)
}

func (fs FlagSet) Clone() FlagSet {
	out := make(FlagSet, len(fs))
	for f := range fs {
		out[f] = struct{}{}
	}
	return out
}

func (fs FlagSet) Equal(other FlagSet) bool {
	if len(fs) != len(other) {
		return false
	}
	for f := range fs {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

// Diff returns the flags present in fs but not in other, and the flags
// present in other but not in fs. Flag propagation applies these as
// set-union additions and set-difference removals so that concurrent
// non-conflicting edits from the other direction survive.
func (fs FlagSet) Diff(other FlagSet) (added, removed FlagSet) {
	added = NewFlagSet()
	removed = NewFlagSet()
	for f := range fs {
		if !other.Has(f) {
			added.Add(f)
		}
	}
	for f := range other {
		if !fs.Has(f) {
			removed.Add(f)
		}
	}
	return added, removed
}

// String renders the set as a sorted comma-joined list, the form used by
// the status file format.
func (fs FlagSet) String() string {
	names := make([]string, 0, len(fs))
	for f := range fs {
		names = append(names, f.String())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// ParseFlagSet is the inverse of FlagSet.String. Unknown flag names are
// dropped rather than failing the whole record.
func ParseFlagSet(s string) FlagSet {
	fs := NewFlagSet()
	if s == "" {
		return fs
	}
	for _, name := range strings.Split(s, ",") {
		if f, ok := enum.ParseFlag(strings.TrimSpace(name)); ok {
			fs.Add(f)
		}
	}
	return fs
}

// CopyMessageList deep-copies a UID to flag-set mapping.
func CopyMessageList(in map[UID]FlagSet) map[UID]FlagSet {
	out := make(map[UID]FlagSet, len(in))
	for uid, fs := range in {
		out[uid] = fs.Clone()
	}
	return out
}
