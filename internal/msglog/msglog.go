// Package msglog archives incoming bus messages as files for later
// inspection. Dumps are best effort: a failed write logs a warning and
// message processing continues.
package msglog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Dir writes message dumps into a directory. The zero value discards
// everything, so callers can pass it around without nil checks.
type Dir struct {
	path string
}

// New returns a Dir writing into path, creating it if needed. An empty
// path disables dumping.
func New(path string) (Dir, error) {
	if path == "" {
		return Dir{}, nil
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return Dir{}, err
	}
	return Dir{path: path}, nil
}

// Enabled reports whether dumps are written anywhere.
func (d Dir) Enabled() bool {
	return d.path != ""
}

// Write stores contents under a timestamp-prefixed variant of name.
// Name does not need to be unique; the prefix keeps successive dumps
// apart. Colons in the timestamp are replaced for Windows file systems.
func (d Dir) Write(name string, contents []byte) {
	if d.path == "" {
		return
	}
	prefix := strings.ReplaceAll(time.Now().Format("2006-01-02T15:04:05.000"), ":", "-")
	path := filepath.Join(d.path, prefix+"--"+name)
	if err := os.WriteFile(path, contents, 0644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write message dump")
		return
	}
	log.Trace().Str("path", path).Msg("Wrote message dump")
}
