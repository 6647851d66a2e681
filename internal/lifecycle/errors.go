package lifecycle

import "fmt"

// DependencyError reports a problem in the module graph: a missing or
// unknown module, a duplicate registration or a dependency cycle.
type DependencyError struct {
	Module string
	msg    string
}

func newDependencyError(module, format string, args ...interface{}) *DependencyError {
	return &DependencyError{Module: module, msg: fmt.Sprintf(format, args...)}
}

// Error returns the error message
func (e *DependencyError) Error() string {
	return e.msg
}
