// Package ironerr defines IronBase's error taxonomy as sentinel
// values plus a typed wrapper so callers can both errors.Is against a
// stable sentinel and recover the originating cause with errors.Unwrap.
package ironerr

import "errors"

// Code identifies one of the taxonomy entries in that set.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeInvalidHandle
	CodeIoError
	CodeSerializationError
	CodeCollectionNotFound
	CodeCollectionExists
	CodeDocumentNotFound
	CodeQueryError
	CodeCorruptionDetected
	CodeIndexError
	CodeAggregationError
	CodeSchemaViolation
	CodeTransactionClosed
	CodeTransactionAborted
	CodeWalCorruption
	CodeDuplicateKey
	CodeUniqueViolation
	CodeLockTimeout
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeInvalidHandle:
		return "InvalidHandle"
	case CodeIoError:
		return "IoError"
	case CodeSerializationError:
		return "SerializationError"
	case CodeCollectionNotFound:
		return "CollectionNotFound"
	case CodeCollectionExists:
		return "CollectionExists"
	case CodeDocumentNotFound:
		return "DocumentNotFound"
	case CodeQueryError:
		return "QueryError"
	case CodeCorruptionDetected:
		return "CorruptionDetected"
	case CodeIndexError:
		return "IndexError"
	case CodeAggregationError:
		return "AggregationError"
	case CodeSchemaViolation:
		return "SchemaViolation"
	case CodeTransactionClosed:
		return "TransactionClosed"
	case CodeTransactionAborted:
		return "TransactionAborted"
	case CodeWalCorruption:
		return "WalCorruption"
	case CodeDuplicateKey:
		return "DuplicateKey"
	case CodeUniqueViolation:
		return "UniqueViolation"
	case CodeLockTimeout:
		return "LockTimeout"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error from a code and an underlying error (which may be nil).
func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Wrap attaches code to err, unless err is already nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Sentinel causes used across packages; wrapped in a *Error by callers that
// need to attach a Code, or returned bare where the Code is implied by the
// function's documented contract.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists  = errors.New("collection already exists")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrQueryError        = errors.New("invalid query")
	ErrCorruptionDetected = errors.New("storage log is unreadable or metadata is corrupt")
	ErrIndexError        = errors.New("index operation failed")
	ErrAggregationError  = errors.New("invalid aggregation pipeline")
	ErrSchemaViolation   = errors.New("document does not satisfy schema")
	ErrTransactionClosed = errors.New("transaction is not active")
	ErrTransactionAborted = errors.New("transaction was aborted")
	ErrWalCorruption     = errors.New("write-ahead log is corrupt")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrUniqueViolation   = errors.New("unique index violation")
	ErrLockTimeout       = errors.New("timed out acquiring write lock")
	ErrSerialization     = errors.New("payload must be valid JSON")
	ErrIo                = errors.New("storage I/O error")
)
