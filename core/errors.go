package core

import (
	"errors"
	"fmt"
)

// Schema errors
var (
	ErrInvalidProperty        = errors.New("invalid message property")
	ErrInvalidMessageType     = errors.New("invalid message type")
	ErrFieldCountMismatch     = errors.New("field count does not match property count")
	ErrConcreteMessageDefined = errors.New("concrete message already defined")
	ErrNotNetworkable         = errors.New("message type has no packet type")
	ErrUnknownPacketType      = errors.New("unknown packet type")
)

// Configuration errors
var (
	ErrReservedPacketType  = errors.New("packet types 0-100 are reserved")
	ErrDuplicatePacketType = errors.New("packet type already registered")
	ErrGroupDoesNotExist   = errors.New("group does not exist")
	ErrGroupAlreadyExists  = errors.New("group already exists")
	ErrInvalidGroupName    = errors.New("invalid group name")
	ErrGroupFailed         = errors.New("group failed")
)

// GroupFailedError is returned by Tick when a group's execution unit died.
type GroupFailedError struct {
	// Group is the name of the failed group
	Group string

	// Err is the reason the group stopped, if known
	Err error
}

func (e *GroupFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("group %q failed", e.Group)
	}
	return fmt.Sprintf("group %q failed: %v", e.Group, e.Err)
}

func (e *GroupFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGroupFailed}
	}
	return []error{ErrGroupFailed, e.Err}
}
