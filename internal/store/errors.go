package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrShopNotFound      = errors.New("shop not found")
	ErrShopClosed        = errors.New("shop is closed")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrNotCustomer       = errors.New("only customers can join the queue")
	ErrDuplicateEntry    = errors.New("customer already has an active queue entry")
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrNotInQueue        = errors.New("customer is not in the queue")
	ErrInvalidTransition = errors.New("state transition not allowed")
	ErrConflict          = errors.New("queue entry changed concurrently")
	ErrInvalidService    = errors.New("service does not belong to shop")
	ErrVisitNotFound     = errors.New("visit not found")
)

// InvalidServicesError reports every requested service id that is not in the
// shop's catalog, not just the first. It matches ErrInvalidService under
// errors.Is.
type InvalidServicesError struct {
	ServiceIDs []string
}

func (e *InvalidServicesError) Error() string {
	return fmt.Sprintf("services %s do not belong to this shop", strings.Join(e.ServiceIDs, ", "))
}

func (e *InvalidServicesError) Is(target error) bool {
	return target == ErrInvalidService
}
