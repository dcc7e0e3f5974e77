package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound         = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists    = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput     = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState     = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrDerivedAttribute = NewDomainError("DERIVED_ATTRIBUTE", "Derived attributes are engine-owned and not writable")
)

// SchemaError reports an invalid schema or rule configuration. It is fatal
// at startup and is never surfaced per-transaction.
type SchemaError struct {
	Code    string
	Message string
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSchemaError creates a new schema error
func NewSchemaError(code, format string, args ...any) *SchemaError {
	return &SchemaError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Schema error codes
const (
	SchemaUnknownEntity       = "SCHEMA_UNKNOWN_ENTITY"
	SchemaUnknownAttribute    = "SCHEMA_UNKNOWN_ATTRIBUTE"
	SchemaUnknownRelationship = "SCHEMA_UNKNOWN_RELATIONSHIP"
	SchemaDuplicateName       = "SCHEMA_DUPLICATE_NAME"
	SchemaInvalidForeignKey   = "SCHEMA_INVALID_FOREIGN_KEY"
	SchemaDuplicateProducer   = "SCHEMA_DUPLICATE_PRODUCER"
	SchemaMissingProducer     = "SCHEMA_MISSING_PRODUCER"
	SchemaTargetNotDerived    = "SCHEMA_TARGET_NOT_DERIVED"
	SchemaDependencyCycle     = "SCHEMA_DEPENDENCY_CYCLE"
)

// ConstraintViolation reports an invariant that failed after propagation
// settled. The transaction it belongs to is rolled back in full.
type ConstraintViolation struct {
	Rule    string
	Entity  string
	RowID   uuid.UUID
	Message string
}

// Error implements the error interface
func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint %q violated for %s %s: %s", e.Rule, e.Entity, e.RowID, e.Message)
}

// PropagationOverflow guards against non-terminating recomputation caused by
// a misbehaving storage collaborator. The dependency graph is validated to be
// acyclic at startup, so hitting this is an internal error.
type PropagationOverflow struct {
	Recomputations int
}

// Error implements the error interface
func (e *PropagationOverflow) Error() string {
	return fmt.Sprintf("propagation aborted after %d recomputations", e.Recomputations)
}
