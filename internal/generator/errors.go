package generator

import (
	"errors"
	"fmt"

	"policy-bench/internal/model"
)

// ErrCapacityExceeded is matched by every *CapacityError.
var ErrCapacityExceeded = errors.New("rule key space exhausted")

// CapacityError reports that a generation run could not produce a unique key
// for rule Index. Attempts is zero when the request was rejected up front
// because Requested exceeds KeySpace.
type CapacityError struct {
	Kind      model.RuleType
	Requested int
	KeySpace  uint64
	Index     int
	Attempts  int
}

func (e *CapacityError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("%s: requested %d %s rules but only %d distinct keys exist (rule index %d cannot be resolved)",
			ErrCapacityExceeded, e.Requested, e.Kind, e.KeySpace, e.Index)
	}
	return fmt.Sprintf("%s: no unused %s key for rule index %d after %d attempts (requested %d, key space %d)",
		ErrCapacityExceeded, e.Kind, e.Index, e.Attempts, e.Requested, e.KeySpace)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}
