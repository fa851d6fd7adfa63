// Package ffmpeg runs the ffmpeg CLI as the pipeline's transcoder.
//
// BuildArgs turns a media.TranscodeSpec into an argument slice: scaled H.264
// at a target bitrate with AAC audio for video specs, MP3 for audio-only
// specs. Transcoder executes it synchronously, captures stderr for
// diagnostics, and reports failures as services.ErrEncode.
package ffmpeg
