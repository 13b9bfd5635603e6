package player

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Only the tail of the debug log is inspected.
const logTailBytes = 64 << 10

var logPatterns = []struct {
	needle string
	text   string
}{
	{"HTTP Error 403", "access denied by source (HTTP 403)"},
	{"HTTP Error 404", "source not found (HTTP 404)"},
	{"HTTP Error 429", "rate limited by source (HTTP 429)"},
	{"Video unavailable", "video unavailable"},
	{"Private video", "video is private"},
	{"Sign in to confirm", "source requires sign-in"},
	{"Unsupported URL", "unsupported URL"},
	{"Failed to recognize file format", "unrecognized media format"},
	{"No such file or directory", "file not found"},
	{"Could not resolve host", "network unreachable"},
	{"Name or service not known", "network unreachable"},
	{"Connection refused", "connection refused by source"},
}

// ClassifyExit turns an exit code into error text. When logPath names a
// readable mpv log, a recognised message or the last error line refines the
// result; otherwise the exit code alone decides.
func ClassifyExit(code int, logPath string) string {
	if code == 0 {
		return ""
	}
	if text := classifyLog(logPath); text != "" {
		return text
	}
	return exitCodeText(code)
}

func exitCodeText(code int) string {
	switch code {
	case -1:
		return "player killed"
	case 1:
		return "player failed to initialize"
	case 2:
		return "source could not be played"
	case 3:
		return "player quit"
	case 4:
		return "player interrupted by signal"
	default:
		return fmt.Sprintf("player exited with code %d", code)
	}
}

func classifyLog(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > logTailBytes {
		if _, err := f.Seek(-logTailBytes, io.SeekEnd); err != nil {
			return ""
		}
	}
	return classifyLogLines(f)
}

func classifyLogLines(r io.Reader) string {
	var lastError string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		for _, p := range logPatterns {
			if strings.Contains(line, p.needle) {
				return p.text
			}
		}
		if msg, ok := errorLine(line); ok {
			lastError = msg
		}
	}
	return lastError
}

// errorLine extracts the message of an mpv log line at error or fatal level,
// e.g. "[   1.234][e][ytdl_hook] youtube-dl failed".
func errorLine(line string) (string, bool) {
	for _, level := range []string{"][e][", "][f]["} {
		i := strings.Index(line, level)
		if i < 0 {
			continue
		}
		rest := line[i+len(level):]
		if j := strings.Index(rest, "] "); j >= 0 {
			rest = rest[j+2:]
		}
		rest = strings.TrimSpace(rest)
		if rest != "" {
			return rest, true
		}
	}
	return "", false
}
