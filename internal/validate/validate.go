// Package validate checks user- and room-identifier strings against the
// admissible character set, generalizing the teacher's content.ValidateUsername
// regex-based check into the spec's wider Unicode rule.
package validate

import (
	"unicode"

	"chatcore/internal/chaterr"
)

const forbidden = ":{}"

// Name reports whether s is a legal username or room name: non-empty, no
// control characters (including DEL), and none of ':', '{', '}'.
func Name(s string) error {
	if s == "" {
		return chaterr.New(chaterr.InvalidName, s)
	}
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return chaterr.New(chaterr.InvalidName, s)
		}
		if r == 0x7f || unicode.IsControl(r) {
			return chaterr.New(chaterr.InvalidName, s)
		}
		for _, bad := range forbidden {
			if r == bad {
				return chaterr.New(chaterr.InvalidName, s)
			}
		}
	}
	return nil
}

// ListName reports whether name is one of the four admitted room list names.
func ListName(name string) error {
	switch name {
	case "userlist", "blacklist", "adminlist", "whitelist":
		return nil
	default:
		return chaterr.New(chaterr.NoList, name)
	}
}

// DirectListName reports whether name is one of the two admitted direct
// message list names.
func DirectListName(name string) error {
	switch name {
	case "blacklist", "whitelist":
		return nil
	default:
		return chaterr.New(chaterr.NoList, name)
	}
}
