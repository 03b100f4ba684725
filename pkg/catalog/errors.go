package catalog

// StoreError is a business error raised by a Librarian backend, as opposed
// to an infrastructure failure (disk error, closed database).
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// GUID is the entry the error relates to, if any
	GUID string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.GUID != "" {
		return e.Message + ": " + e.GUID
	}
	return e.Message
}

// ErrorCode is the category of a StoreError.
type ErrorCode int

const (
	// ErrNotFound indicates the GUID does not exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an entry with the GUID already exists
	ErrAlreadyExists

	// ErrInvalidArgument indicates malformed metadata or an unknown
	// section/property
	ErrInvalidArgument

	// ErrIOError indicates the backend failed to read or write an entry
	ErrIOError

	// ErrClosed indicates the backend has been closed
	ErrClosed
)

// IsNotFound reports whether err is a StoreError with code ErrNotFound.
func IsNotFound(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Code == ErrNotFound
}
