package schedule

import "errors"

// ErrInputContractViolation marks malformed input (start >= end, unknown
// timezone, non-positive duration). Callers must not swallow it.
var ErrInputContractViolation = errors.New("input contract violation")
