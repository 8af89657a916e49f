package oracle

import (
	"bufio"
	"log"
	"os"
)

// Cursor is an opaque position in a monotonically growing alert log.
// Cursors are values: taking a checkpoint never disturbs other readers,
// and counting from an old cursor is always valid.
type Cursor int64

// AlertOracle reports how many detection alerts have been raised since a
// checkpoint. The before/after delta is only attributable to a single
// evaluation when evaluations run sequentially; the oracle has one
// client at a time.
type AlertOracle interface {
	Checkpoint() Cursor
	CountSince(c Cursor) int
}

// FileOracle tails a Snort-style alert file. A missing or unreadable
// file counts as zero alerts with a warning; it is never fatal.
type FileOracle struct {
	path   string
	logger *log.Logger
}

func NewFileOracle(path string, logger *log.Logger) *FileOracle {
	return &FileOracle{path: path, logger: logger}
}

// Checkpoint returns the current end of the alert file.
func (o *FileOracle) Checkpoint() Cursor {
	info, err := os.Stat(o.path)
	if err != nil {
		o.warnf("alert log not readable: %v", err)
		return 0
	}
	return Cursor(info.Size())
}

// CountSince counts alert lines appended after the cursor.
func (o *FileOracle) CountSince(c Cursor) int {
	f, err := os.Open(o.path)
	if err != nil {
		o.warnf("alert log not readable: %v", err)
		return 0
	}
	defer f.Close()

	if _, err := f.Seek(int64(c), 0); err != nil {
		o.warnf("alert log seek failed: %v", err)
		return 0
	}

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		o.warnf("alert log read failed: %v", err)
	}
	return count
}

func (o *FileOracle) warnf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf("[WARNING] "+format, args...)
	}
}

// StaticOracle serves a scripted alert count sequence. Checkpoint returns
// the cumulative count seen so far; CountSince advances the script and
// reports the difference. Used by tests and dry runs.
type StaticOracle struct {
	deltas []int
	pos    int
	total  int
}

func NewStaticOracle(deltas ...int) *StaticOracle {
	return &StaticOracle{deltas: deltas}
}

func (o *StaticOracle) Checkpoint() Cursor {
	return Cursor(o.total)
}

func (o *StaticOracle) CountSince(c Cursor) int {
	if o.pos < len(o.deltas) {
		o.total += o.deltas[o.pos]
		o.pos++
	}
	return o.total - int(c)
}
