package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidStateGroup = errors.New("invalid state group")
	ErrInvalidStateID    = errors.New("invalid state id")
	ErrInvalidSortOrder  = errors.New("invalid sort order")
	ErrInvalidScope      = errors.New("invalid scope")
)

// ErrInvalidConfiguration is the root of every display-configuration failure.
// An unrecognized group, order or layout value is a programming error and is
// never silently defaulted.
var ErrInvalidConfiguration = errors.New("invalid display configuration")

var (
	ErrInvalidGroupBy     = fmt.Errorf("%w: group_by", ErrInvalidConfiguration)
	ErrInvalidOrderBy     = fmt.Errorf("%w: order_by", ErrInvalidConfiguration)
	ErrInvalidLayout      = fmt.Errorf("%w: layout", ErrInvalidConfiguration)
	ErrInvalidFilterField = fmt.Errorf("%w: filter field", ErrInvalidConfiguration)
)
