// Package budget plans transcode parameters against a delivery size ceiling.
//
// Everything here is pure: the same inputs always give the same outputs, so
// the planner is tested directly without running a transcoder.
//
// PlanInitialBitrate splits the byte budget left after an assumed audio
// track over the source duration and clamps the result into a watchable
// range. NextStepDown derives the parameters of the next retry from the
// previous ones: lower bitrate, smaller even dimensions, cheaper audio.
package budget
