package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is one parsed yt-dlp status line. Percent is -1 when the line
// carries no percentage.
type Progress struct {
	Phase   string
	Percent float64
	Total   string
	Speed   string
	ETA     string
}

var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed = regexp.MustCompile(`\bat\s+([^\s]+/s)`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
	reOf    = regexp.MustCompile(`\bof\s+~?\s*([^\s]+)`)
)

// ParseProgress extracts progress from a yt-dlp output line.
func ParseProgress(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "[download]"):
		if strings.Contains(line, "Destination:") {
			return Progress{Phase: "downloading", Percent: -1}, true
		}
		m := rePct.FindStringSubmatch(line)
		if m == nil {
			return Progress{}, false
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Progress{}, false
		}
		p := Progress{Phase: "downloading", Percent: pct}
		if m := reOf.FindStringSubmatch(line); m != nil {
			p.Total = m[1]
		}
		if m := reSpeed.FindStringSubmatch(line); m != nil {
			p.Speed = m[1]
		}
		if m := reETA.FindStringSubmatch(line); m != nil {
			p.ETA = m[1]
		}
		return p, true
	case strings.HasPrefix(line, "[Merger]"), strings.HasPrefix(line, "[VideoRemuxer]"):
		return Progress{Phase: "merging", Percent: -1}, true
	case strings.HasPrefix(line, "[ExtractAudio]"):
		return Progress{Phase: "converting", Percent: -1}, true
	default:
		return Progress{}, false
	}
}
