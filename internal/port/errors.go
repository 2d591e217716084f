package port

import "errors"

var (
	ErrOptimisticLock   = errors.New("optimistic lock conflict")
	ErrNegativeQuantity = errors.New("quantity would become negative")
	ErrDuplicate        = errors.New("duplicate record")
)
