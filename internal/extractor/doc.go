// Package extractor wraps the yt-dlp CLI as the pipeline's source extractor.
//
// FetchManifest asks yt-dlp for the JSON description of a URL (title,
// duration, available encodings) without downloading anything. Select picks
// the encoding to download for an output kind, falling back to a
// platform-specific format selector when the manifest offers no combined
// audio+video encoding. Materialize downloads the chosen encoding into a job
// workspace and reports byte-level progress when yt-dlp emits it.
//
// Failures are classified from yt-dlp's stderr into ErrNotFound,
// ErrUnsupportedSite, ErrNetwork, ErrDownloadFailed and ErrEmptyFile, all
// wrapped as services.ErrAcquisition.
package extractor
