package sim

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/dray-io/rlftl/internal/logging"
)

// OpKind is the request type of a trace record.
type OpKind int

const (
	// OpRead is a host read.
	OpRead OpKind = iota
	// OpWrite is a host write.
	OpWrite
	// OpTrim invalidates a logical page range.
	OpTrim
)

func (o OpKind) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpTrim:
		return "trim"
	default:
		return "unknown"
	}
}

// Request is one host request replayed from a trace or generated
// synthetically.
type Request struct {
	Tick  uint64
	Op    OpKind
	LPN   uint64
	Count uint64
}

// TraceReader streams requests from a plain-text trace file with the line
// format
//
//	<tick-ns> <R|W|T> <lpn> [count]
//
// Files ending in .gz or .lz4 are decompressed transparently. Malformed
// lines and comments are skipped; malformed lines log one warning each.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
	log     *logging.Logger
	lineNo  uint64
	skipped uint64
}

// OpenTrace opens path for replay.
func OpenTrace(path string, log *logging.Logger) (*TraceReader, error) {
	if log == nil {
		log = logging.Global()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sim: open trace %s: %w", path, err)
	}

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("sim: gzip trace %s: %w", path, err)
		}
		r = zr
	case strings.HasSuffix(path, ".lz4"):
		r = lz4.NewReader(f)
	}

	return &TraceReader{
		file:    f,
		scanner: bufio.NewScanner(r),
		log:     log,
	}, nil
}

// Next returns the next request, or io.EOF when the trace is exhausted.
func (t *TraceReader) Next() (Request, error) {
	for t.scanner.Scan() {
		t.lineNo++
		line := strings.TrimSpace(t.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		req, err := parseTraceLine(line)
		if err != nil {
			t.skipped++
			t.log.Warnf("skipping malformed trace line", map[string]any{
				"line":  t.lineNo,
				"error": err.Error(),
			})
			continue
		}
		return req, nil
	}

	if err := t.scanner.Err(); err != nil {
		return Request{}, fmt.Errorf("sim: read trace: %w", err)
	}
	return Request{}, io.EOF
}

// Skipped returns the number of malformed lines dropped so far.
func (t *TraceReader) Skipped() uint64 { return t.skipped }

// Close releases the trace file.
func (t *TraceReader) Close() error {
	return t.file.Close()
}

func parseTraceLine(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Request{}, fmt.Errorf("want at least 3 fields, got %d", len(fields))
	}

	tick, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("bad tick %q", fields[0])
	}

	var op OpKind
	switch fields[1] {
	case "R", "r":
		op = OpRead
	case "W", "w":
		op = OpWrite
	case "T", "t":
		op = OpTrim
	default:
		return Request{}, fmt.Errorf("bad op %q", fields[1])
	}

	lpn, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("bad lpn %q", fields[2])
	}

	count := uint64(1)
	if len(fields) >= 4 {
		count, err = strconv.ParseUint(fields[3], 10, 64)
		if err != nil || count == 0 {
			return Request{}, fmt.Errorf("bad count %q", fields[3])
		}
	}

	return Request{Tick: tick, Op: op, LPN: lpn, Count: count}, nil
}
