package namespace

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no namespace carries the requested title.
	ErrNotFound = errors.New("namespace not found")

	// ErrDuplicateTitle is returned in strict mode when more than one
	// namespace carries the requested title.
	ErrDuplicateTitle = errors.New("namespace title is not unique")
)

// NotFoundError names the title that failed to resolve.
type NotFoundError struct {
	Title string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("namespace %q not found", e.Title)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateTitleError lists every namespace sharing a title, in listing order.
type DuplicateTitleError struct {
	Title string
	IDs   []string
}

func (e *DuplicateTitleError) Error() string {
	return fmt.Sprintf("namespace title %q matches %d namespaces: %s",
		e.Title, len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *DuplicateTitleError) Unwrap() error { return ErrDuplicateTitle }
