package provision

import (
	"fmt"
)

// ProvisionError reports a failed stream or consumer operation. A "not
// found" condition is never wrapped in it; absence triggers creation and is
// not an error.
type ProvisionError struct {
	Resource string // "stream" or "consumer"
	Name     string
	Op       string // "lookup", "create" or "update"
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision: %s %s %q: %v", e.Op, e.Resource, e.Name, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
