package services

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline error taxonomy.
var (
	ErrAcquisition         = errors.New("acquisition error")
	ErrEncode              = errors.New("encode error")
	ErrSizeConstraint      = errors.New("size constraint unsatisfiable")
	ErrDelivery            = errors.New("delivery error")
	ErrConcurrencyRejected = errors.New("job already active")
)

// General markers shared by supporting packages.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind is the short classification logged alongside failures.
type ErrorKind string

const (
	ErrorKindAcquisition   ErrorKind = "acquisition"
	ErrorKindEncode        ErrorKind = "encode"
	ErrorKindSize          ErrorKind = "size_constraint"
	ErrorKindDelivery      ErrorKind = "delivery"
	ErrorKindConcurrency   ErrorKind = "concurrency"
	ErrorKindExternalTool  ErrorKind = "external_tool"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindTransient     ErrorKind = "transient"
)

// ErrorDetails summarises an error for structured logging.
type ErrorDetails struct {
	Kind    ErrorKind
	Message string
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Details classifies err by the first marker it carries.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	return ErrorDetails{Kind: kindOf(err), Message: err.Error()}
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConcurrencyRejected):
		return ErrorKindConcurrency
	case errors.Is(err, ErrSizeConstraint):
		return ErrorKindSize
	case errors.Is(err, ErrAcquisition):
		return ErrorKindAcquisition
	case errors.Is(err, ErrEncode):
		return ErrorKindEncode
	case errors.Is(err, ErrDelivery):
		return ErrorKindDelivery
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrExternalTool):
		return ErrorKindExternalTool
	default:
		return ErrorKindTransient
	}
}

// UserMessage converts a pipeline failure into the sentence sent to the
// requester. Internal paths and tool output never leak into it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch kindOf(err) {
	case ErrorKindConcurrency:
		return "You already have a download in progress. Please wait for it to finish."
	case ErrorKindAcquisition, ErrorKindNotFound:
		return "Could not fetch the media. Check that the link is valid and publicly accessible."
	case ErrorKindEncode:
		return "Could not process the media file."
	case ErrorKindSize:
		return "The media is too large to send, even after compression."
	case ErrorKindDelivery:
		return "The file was processed but could not be sent."
	case ErrorKindTimeout:
		return "The request took too long and was stopped."
	default:
		return "Something went wrong while processing your request."
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
