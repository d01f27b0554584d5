package model

import (
	"errors"
	"fmt"
)

// ErrInvalidData marks malformed input series: empty data, non-increasing
// timestamps, non-positive prices or mismatched column lengths.
var ErrInvalidData = errors.New("invalid data")

func dataErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}
