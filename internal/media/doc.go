// Package media holds the value types shared by the planner, the transcoder
// and the extractor: the parameter set for one transcode, the requested
// output kind, and the hosting platform a source URL belongs to.
package media
