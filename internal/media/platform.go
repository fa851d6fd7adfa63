package media

import (
	"net/url"
	"strings"
)

// Platform identifies the hosting site of a source URL. It only tunes how the
// extractor is invoked; unknown hosts are PlatformGeneric, never rejected.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformGeneric   Platform = "generic"
)

var platformHosts = map[string]Platform{
	"youtube.com":          PlatformYouTube,
	"youtu.be":             PlatformYouTube,
	"youtube-nocookie.com": PlatformYouTube,
	"instagram.com":        PlatformInstagram,
	"instagr.am":           PlatformInstagram,
	"tiktok.com":           PlatformTikTok,
}

// DetectPlatform maps a URL to its platform by host name.
func DetectPlatform(raw string) Platform {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PlatformGeneric
	}
	host := strings.ToLower(parsed.Hostname())
	for host != "" {
		if platform, ok := platformHosts[host]; ok {
			return platform
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			break
		}
		host = host[dot+1:]
	}
	return PlatformGeneric
}

// NormalizeURL rewrites platform URLs into the form the extractor handles
// best. Instagram share links lose their tracking query and /reels/ paths
// become /reel/.
func NormalizeURL(raw string, platform Platform) string {
	raw = strings.TrimSpace(raw)
	if platform != PlatformInstagram {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.Path = strings.Replace(parsed.Path, "/reels/", "/reel/", 1)
	return parsed.String()
}
