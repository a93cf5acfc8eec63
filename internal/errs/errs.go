// Package errs holds the error values shared by every codec in the module.
package errs

import (
	"errors"
	"fmt"
)

// ErrFormat is matched by every error reporting malformed stored data: bad tag ids, truncated
// streams, invalid headers and similar.
var ErrFormat = errors.New("malformed data")

// Format returns an error matching ErrFormat with the formatted message attached.
func Format(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, a...))
}
