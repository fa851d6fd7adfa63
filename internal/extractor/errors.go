package extractor

import (
	"errors"
	"regexp"
)

var (
	ErrNotFound        = errors.New("source not found")
	ErrUnsupportedSite = errors.New("unsupported site")
	ErrNetwork         = errors.New("network error")
	ErrNoEncoding      = errors.New("no matching encoding")
	ErrDownloadFailed  = errors.New("download failed")
	ErrEmptyFile       = errors.New("downloaded file is empty")
)

var (
	reUnsupported = regexp.MustCompile(`(?i)Unsupported URL|is not a valid URL|No suitable extractor`)
	reNotFound    = regexp.MustCompile(`(?i)HTTP Error 404|Video unavailable|This video is (private|unavailable)|Private video|does not exist|has been removed|account .* (terminated|suspended)|not available in your country|Sign in to confirm your age`)
	reNetwork     = regexp.MustCompile(`(?i)Unable to download (webpage|API)|timed out|Connection (refused|reset)|Name or service not known|Temporary failure in name resolution|Network is unreachable|HTTP Error 5\d\d|HTTP Error 429|getaddrinfo failed`)
	reNoFormat    = regexp.MustCompile(`(?i)Requested format is not available|No video formats found`)
)

// classifyManifestError maps yt-dlp stderr from a manifest fetch to a sentinel.
func classifyManifestError(stderr string) error {
	switch {
	case reUnsupported.MatchString(stderr):
		return ErrUnsupportedSite
	case reNotFound.MatchString(stderr):
		return ErrNotFound
	case reNoFormat.MatchString(stderr):
		return ErrNoEncoding
	default:
		return ErrNetwork
	}
}

// classifyDownloadError maps yt-dlp stderr from a download to a sentinel.
// Download failures are ErrDownloadFailed; a recognised network cause is
// joined so callers can still test for ErrNetwork.
func classifyDownloadError(stderr string) error {
	switch {
	case reNetwork.MatchString(stderr):
		return errors.Join(ErrDownloadFailed, ErrNetwork)
	case reNotFound.MatchString(stderr):
		return errors.Join(ErrDownloadFailed, ErrNotFound)
	default:
		return ErrDownloadFailed
	}
}
