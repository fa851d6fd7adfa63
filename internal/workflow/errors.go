package workflow

import (
	"errors"

	"clipfit/internal/extractor"
	"clipfit/internal/services"
)

// UserMessage is the failure text sent to the requester. Extractor causes
// get a more specific sentence than the generic classification.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, extractor.ErrNotFound):
		return "Media not found. It may be private, deleted, or region locked."
	case errors.Is(err, extractor.ErrUnsupportedSite):
		return "This site is not supported."
	case errors.Is(err, extractor.ErrNoEncoding):
		return "No downloadable format was found for this link."
	case errors.Is(err, ErrShuttingDown):
		return "The service is shutting down. Please try again later."
	default:
		return services.UserMessage(err)
	}
}
