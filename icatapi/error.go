package icatapi

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/serum-errors/go-serum"
)

const (
	ECodeAlreadyExists   = "icat-error-already-exists"
	ECodeAmbiguous       = "icat-error-ambiguous-entity"
	ECodeArgument        = "icat-error-invalid-argument"
	ECodeDataTooNew      = "icat-error-datatoonew"
	ECodeInitialization  = "icat-error-initialization"
	ECodeInternal        = "icat-error-internal"
	ECodeInvalid         = "icat-error-invalid"
	ECodeIo              = "icat-error-io"
	ECodeNotFound        = "icat-error-not-found"
	ECodeRestoreFailed   = "icat-error-restore-failed"
	ECodeSearchAssertion = "icat-error-search-assertion"
	ECodeSerialization   = "icat-error-serialization"
	ECodeUnknown         = "icat-error-unknown"
	ECodeUnknownField    = "icat-error-unknown-field"
	ECodeUnknownType     = "icat-error-unknown-entity-type"
	ECodeUnresolved      = "icat-error-unresolved-reference"
)

// TerminalError emits an error on stdout as json, and halts immediately.
// In most cases, you should not use this method, and there will be a better place to send errors
// that will be more guaranteed to fit any protocols and scripts better;
// however, this is sometimes used in init methods (where we know no other protocol yet).
func TerminalError(err serum.ErrorInterface, exitCode int) {
	json.NewEncoder(os.Stdout).Encode(struct {
		Error serum.ErrorInterface `json:"error"`
	}{err})
	os.Exit(exitCode)
}

// ErrorUnknown is returned when an unknown error occurs
//
// Errors:
//
// - icat-error-unknown --
func ErrorUnknown(msgTmpl string, cause error) error {
	return serum.Errorf(ECodeUnknown, "%s: %w", msgTmpl, cause)
}

// ErrorInternal is for miscellaneous errors that should be handled internally.
// In most cases, prefer to use more specific errors.
// Can be used when an end user is not expected to have viable intervention strategies.
//
// Errors:
//
// - icat-error-internal --
func ErrorInternal(msgTmpl string, cause error) error {
	return serum.Errorf(ECodeInternal, "%s: %w", msgTmpl, cause)
}

// ErrorInvalid is returned when something is invalid.
// In most cases, prefer to use more specific errors.
// The caller must format the message string.
//
// Errors:
//
//  - icat-error-invalid --
func ErrorInvalid(message string, deets ...[2]string) error {
	opts := make([]serum.WithConstruction, 0, len(deets))
	for _, d := range deets {
		opts = append(opts, serum.WithDetail(d[0], d[1]))
	}
	opts = append(opts, serum.WithMessageLiteral(message))
	return serum.Error(ECodeInvalid, opts...)
}

// ErrorIo wraps generic I/O errors from the Go stdlib
//
// Errors:
//
//    - icat-error-io --
func ErrorIo(context string, path string, cause error) error {
	result := serum.Errorf(ECodeIo, "io error: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}, {"path", path}})
	return result
}

// ErrorSerialization is returned when a document cannot be encoded or decoded
//
// Errors:
//
//    - icat-error-serialization --
func ErrorSerialization(context string, cause error) error {
	result := serum.Errorf(ECodeSerialization, "serialization error: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}})
	return result
}

// ErrorUnknownField is returned when a record or entity carries a field
// that the schema registry does not declare for its type.
// Never silently dropped: a dump carrying such a field is from a
// mismatched schema and must not be partially applied.
//
// Errors:
//
//    - icat-error-unknown-field --
func ErrorUnknownField(typeName TypeName, field string) error {
	return serum.Error(ECodeUnknownField,
		serum.WithMessageTemplate("invalid field {{field|q}} in {{type|q}}"),
		serum.WithDetail("field", field),
		serum.WithDetail("type", string(typeName)),
	)
}

// ErrorUnknownEntityType is returned when a type tag falls outside the
// registry's fixed type set.
//
// Errors:
//
//    - icat-error-unknown-entity-type --
func ErrorUnknownEntityType(tag string) error {
	return serum.Error(ECodeUnknownType,
		serum.WithMessageTemplate("unknown entity type {{type|q}}"),
		serum.WithDetail("type", tag),
	)
}

// ErrorAmbiguousEntity is returned when an entity's constraint fields are
// insufficient to produce an injective unique key.
//
// Errors:
//
//    - icat-error-ambiguous-entity --
func ErrorAmbiguousEntity(typeName TypeName, field string, reason string) error {
	return serum.Error(ECodeAmbiguous,
		serum.WithMessageTemplate("cannot compute a unique key for {{type|q}}: field {{field|q}}: {{reason}}"),
		serum.WithDetail("type", string(typeName)),
		serum.WithDetail("field", field),
		serum.WithDetail("reason", reason),
	)
}

// ErrorUnresolvedReference is returned when a unique key cannot be resolved,
// neither against the session key index nor by a remote lookup.
//
// Errors:
//
//    - icat-error-unresolved-reference --
func ErrorUnresolvedReference(key string, cause error) error {
	if cause == nil {
		return serum.Error(ECodeUnresolved,
			serum.WithMessageTemplate("cannot resolve reference {{key|q}}"),
			serum.WithDetail("key", key),
		)
	}
	result := serum.Errorf(ECodeUnresolved, "cannot resolve reference %q: %w", key, cause)
	addDetails(result, [][2]string{{"key", key}})
	return result
}

// ErrorNotFound is returned when a catalog lookup by unique key finds nothing.
//
// Errors:
//
//    - icat-error-not-found --
func ErrorNotFound(key string) error {
	return serum.Error(ECodeNotFound,
		serum.WithMessageTemplate("no entity found for key {{key|q}}"),
		serum.WithDetail("key", key),
	)
}

// ErrorAlreadyExists is returned when a catalog create collides with an
// existing entity on a uniqueness constraint.
//
// Errors:
//
//    - icat-error-already-exists --
func ErrorAlreadyExists(typeName TypeName, key string) error {
	return serum.Error(ECodeAlreadyExists,
		serum.WithMessageTemplate("an entity {{type|q}} with key {{key|q}} already exists"),
		serum.WithDetail("type", string(typeName)),
		serum.WithDetail("key", key),
	)
}

// ErrorSearchAssertion is returned when a search yields a result count
// outside the caller's asserted bounds.
//
// Errors:
//
//    - icat-error-search-assertion --
func ErrorSearchAssertion(query string, want string, got int) error {
	return serum.Error(ECodeSearchAssertion,
		serum.WithMessageTemplate("search {{query|q}} matched {{got}} objects, expected {{want}}"),
		serum.WithDetail("query", query),
		serum.WithDetail("want", want),
		serum.WithDetail("got", fmt.Sprintf("%d", got)),
	)
}

// ErrorRestoreFailed is returned when processing of a dump chunk aborts.
// The chunk index and the type/key being processed are the natural replay
// checkpoint, so they ride along as details.
//
// Errors:
//
//    - icat-error-restore-failed --
func ErrorRestoreFailed(chunkIndex int, typeTag TypeName, key string, cause error) error {
	var result error
	if typeTag == "" {
		result = serum.Errorf(ECodeRestoreFailed,
			"restore aborted in chunk %d: %w", chunkIndex, cause)
	} else {
		result = serum.Errorf(ECodeRestoreFailed,
			"restore aborted in chunk %d (%s %q): %w", chunkIndex, typeTag, key, cause)
	}
	addDetails(result, [][2]string{
		{"chunkIndex", fmt.Sprintf("%d", chunkIndex)},
		{"typeTag", string(typeTag)},
		{"key", key},
	})
	return result
}

// ErrorDataTooNew is returned when a dump stream contains data marked with
// a format revision this version of the library does not know.
//
// Errors:
//
//    - icat-error-datatoonew -- if some data is too new to parse completely.
func ErrorDataTooNew(context string, cause error) error {
	result := serum.Errorf(ECodeDataTooNew,
		"while %s, encountered data from an unknown version: %w", context, cause)
	addDetails(result, [][2]string{
		{"context", context},
	})
	return result
}

// ErrorInitialization is returned when required process state cannot be loaded.
//
// Errors:
//
//    - icat-error-initialization --
func ErrorInitialization(context string, cause error) error {
	result := serum.Errorf(ECodeInitialization, "initialization failed: %s: %w", context, cause)
	addDetails(result, [][2]string{{"context", context}})
	return result
}

// addDetails is a helper method to get around the fact that doing a type coercion within
// an exported function is not currently allowed by serum.
// We won't need this if serum supports an equivalent to %w in message templates OR
// supports adding details when using serum.Errorf
func addDetails(err error, details [][2]string) {
	s := err.(*serum.ErrorValue)
	s.Data.Details = append(s.Data.Details, details...)
}
