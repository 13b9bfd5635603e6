// Package resolver looks up display titles for queued sources.
package resolver

import (
	"context"
	"encoding/json"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hearth/internal/logging"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/queue"
)

const defaultTimeout = 20 * time.Second

// YTDLP resolves titles with yt-dlp and falls back to file names for local
// sources. Every failure yields an empty title.
type YTDLP struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a resolver. An empty bin disables network lookups.
func New(bin string, logger zerolog.Logger) *YTDLP {
	return &YTDLP{
		bin:     bin,
		timeout: defaultTimeout,
		logger:  logging.Component(logger, "resolver"),
	}
}

type metadata struct {
	Title     string `json:"title"`
	Fulltitle string `json:"fulltitle"`
}

// ResolveTitle returns a display title for the source, or "".
func (r *YTDLP) ResolveTitle(ctx context.Context, source string) string {
	if queue.DetectSourceKind(source) == models.SourceLocal {
		return localTitle(source)
	}
	if r.bin == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"--ignore-config",
		"--no-playlist",
		"--no-warnings",
		"--socket-timeout", "10",
		"-j",
		"--skip-download",
		source,
	}
	out, err := exec.CommandContext(ctx, r.bin, args...).Output()
	if err != nil {
		r.logger.Debug().Err(err).Str("url", source).Msg("title lookup failed")
		return ""
	}

	var meta metadata
	if err := json.Unmarshal(out, &meta); err != nil {
		r.logger.Debug().Err(err).Str("url", source).Msg("title lookup returned bad json")
		return ""
	}
	if meta.Title == "" {
		return strings.TrimSpace(meta.Fulltitle)
	}
	return strings.TrimSpace(meta.Title)
}

func localTitle(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme == "file" {
		source = u.Path
	}
	base := filepath.Base(source)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
