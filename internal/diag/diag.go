// Package diag is the lifter's diagnostic sink: one line per reported
// analysis failure, written to stderr. The module never reaches for an
// external logging framework, matching the ambient style of the pack this
// tool is built from.
package diag

import (
	"fmt"
	"os"
)

// Logf writes a formatted diagnostic line to stderr.
func Logf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
}
