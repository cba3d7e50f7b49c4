package testutil

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Caller returns "file:line: " for the caller of the test helper that calls Caller, or
// an empty string if it is not known.
func Caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok || line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d: ", filepath.Base(file), line)
}
