package enum

// Flag is one element of the message flag alphabet shared by all three
// repositories. Backends translate it to their native representation
// (IMAP system flags, maildir info letters).
type Flag string

const (
	FlagSeen     Flag = "seen"
	FlagAnswered Flag = "answered"
	FlagFlagged  Flag = "flagged"
	FlagDeleted  Flag = "deleted"
	FlagDraft    Flag = "draft"
)

func (f Flag) String() string {
	return string(f)
}

// KnownFlags lists the alphabet in canonical order.
var KnownFlags = []Flag{FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft}

// ParseFlag returns the flag for its canonical name, or false when the
// name is not part of the alphabet.
func ParseFlag(s string) (Flag, bool) {
	switch Flag(s) {
	case FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft:
		return Flag(s), true
	}
	return "", false
}
