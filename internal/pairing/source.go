package pairing

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// tailWindow caps how much of the active log file a single scan reads.
const tailWindow = 128 * 1024

var logFilePattern = regexp.MustCompile(`^gateway-\d{4}-\d{2}-\d{2}\.log$`)

// Source locates the gateway's date-stamped log files under a directory
// and reads the tail of the freshest one.
type Source struct {
	Dir string
}

// Tail returns up to the last 128 KiB of the most recently modified
// gateway-YYYY-MM-DD.log file. A missing directory or the absence of any
// matching file yields empty text without an error; the pairing watch
// simply has nothing to scan yet.
func (s Source) Tail() (string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !logFilePattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", nil
	}

	return tailFile(filepath.Join(s.Dir, newest))
}

func tailFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := info.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	text := string(data)

	// A mid-file start lands inside an arbitrary line; drop the fragment.
	if offset > 0 {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		} else {
			text = ""
		}
	}
	return text, nil
}
