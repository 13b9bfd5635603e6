package queue

import (
	"net/url"
	"strings"

	"github.com/friendsincode/hearth/internal/models"
)

var liveHosts = []string{
	"twitch.tv",
	"kick.com",
}

// DetectSourceKind infers how a source should be played from its URL shape.
// Anything without a network scheme is treated as a local file.
func DetectSourceKind(raw string) models.SourceKind {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "~") {
		return models.SourceLocal
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		return models.SourceLocal
	}

	switch strings.ToLower(u.Scheme) {
	case "rtmp", "rtmps", "rtsp", "srt", "udp":
		return models.SourceLive
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, live := range liveHosts {
		if host == live || strings.HasSuffix(host, "."+live) {
			return models.SourceLive
		}
	}

	p := strings.ToLower(u.Path)
	if strings.HasSuffix(p, ".m3u8") || strings.HasPrefix(p, "/live/") || strings.HasSuffix(p, "/live") {
		return models.SourceLive
	}

	return models.SourceVideo
}
