package coordinator

import "fmt"

// ErrCode enumerates the coordinator's own error taxonomy (§7), independent
// of the catalog package's Code (which classifies Metastore RPC failures).
type ErrCode int

const (
	ConflictingAction ErrCode = iota
	TableAlreadyExists
	PartitionAlreadyExists
	TableNotFound
	PartitionNotFound
	TransactionConflict
	UnsupportedMix
	UnsupportedWithPendingDdl
	UnsupportedSequence
	UnsupportedDirectWrite
	DifferentIdentity
	UnknownDeclaration
	AlreadyFinished
)

// Error is the coordinator's own error type. Suppressed carries undo-phase
// errors (§7 "suppressed undo errors are attached"), capped at 5 entries per
// §9 "Shared suppression during undo".
type Error struct {
	Code      ErrCode
	Message   string
	Suppressed []error
}

const maxSuppressed = 5

func (e *Error) Error() string {
	if len(e.Suppressed) == 0 {
		return fmt.Sprintf("coordinator error (code: %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("coordinator error (code: %d): %s (+%d suppressed undo errors)", e.Code, e.Message, len(e.Suppressed))
}

// AddSuppressed attaches an undo-phase error, dropping anything past the cap
// so a pathological failure cascade can't grow the error unboundedly.
func (e *Error) AddSuppressed(err error) {
	if err == nil || len(e.Suppressed) >= maxSuppressed {
		return
	}
	e.Suppressed = append(e.Suppressed, err)
}

func newErr(code ErrCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func codeOf(err error) (ErrCode, bool) {
	if e, ok := err.(*Error); ok {
		return e.Code, true
	}
	return 0, false
}

func Is(err error, code ErrCode) bool {
	c, ok := codeOf(err)
	return ok && c == code
}
