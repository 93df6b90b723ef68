package ledger

import (
	"fmt"
	"math"
)

func addChecked(a, b uint64, what string) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, fmt.Errorf("%w: %s overflows", ErrValidation, what)
	}
	return a + b, nil
}

func mulChecked(a, b uint64, what string) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, fmt.Errorf("%w: %s overflows", ErrValidation, what)
	}
	return a * b, nil
}
