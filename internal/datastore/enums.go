package datastore

import "fmt"

// HomeType distinguishes the kinds of home.
type HomeType int

const (
	CalendarType HomeType = iota
	AddressBookType
	NotificationType
)

func (t HomeType) String() string {
	switch t {
	case CalendarType:
		return "calendar"
	case AddressBookType:
		return "addressbook"
	case NotificationType:
		return "notification"
	default:
		return fmt.Sprintf("HomeType(%d)", int(t))
	}
}

// HomeStatus is the provisioning state of a home.
type HomeStatus int

const (
	HomeNormal HomeStatus = iota

	// HomeExternal is a stub for a principal hosted on another pod.
	HomeExternal

	HomePurging
	HomeMigrating
	HomeDisabled
)

func (s HomeStatus) String() string {
	switch s {
	case HomeNormal:
		return "normal"
	case HomeExternal:
		return "external"
	case HomePurging:
		return "purging"
	case HomeMigrating:
		return "migrating"
	case HomeDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("HomeStatus(%d)", int(s))
	}
}

// BindMode is the access a bind row grants.
type BindMode int

const (
	BindOwn BindMode = iota
	BindRead
	BindWrite

	// BindDirect is an access grant without invitation.
	BindDirect

	BindIndirect
)

func (m BindMode) String() string {
	switch m {
	case BindOwn:
		return "own"
	case BindRead:
		return "read"
	case BindWrite:
		return "write"
	case BindDirect:
		return "direct"
	case BindIndirect:
		return "indirect"
	default:
		return fmt.Sprintf("BindMode(%d)", int(m))
	}
}

// ParseBindMode is the inverse of BindMode.String.
func ParseBindMode(s string) (BindMode, error) {
	for m := BindOwn; m <= BindIndirect; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown bind mode %q", s)
}

// BindStatus is the invitation state of a bind row.
type BindStatus int

const (
	StatusInvited BindStatus = iota
	StatusAccepted
	StatusDeclined

	// StatusInvalid is terminal until the owner invites again.
	StatusInvalid

	// StatusDeleted is reported for removed rows; it is never stored.
	StatusDeleted
)

func (s BindStatus) String() string {
	switch s {
	case StatusInvited:
		return "invited"
	case StatusAccepted:
		return "accepted"
	case StatusDeclined:
		return "declined"
	case StatusInvalid:
		return "invalid"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("BindStatus(%d)", int(s))
	}
}
