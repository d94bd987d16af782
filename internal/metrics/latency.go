package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/dray-io/rlftl/internal/logging"
)

// latencyBufferSize is the row count between Parquet writes.
const latencyBufferSize = 512

// LatencySample is one observed response time in the Parquet dump schema.
type LatencySample struct {
	Tick       int64  `parquet:"tick"`
	Op         string `parquet:"op"`
	ResponseNs int64  `parquet:"response_ns"`
}

// LatencyDump streams every observed response time into a Parquet file for
// offline analysis. Like the metrics stream it is best-effort: failures warn
// once and disable the dump.
type LatencyDump struct {
	file     *os.File
	writer   *parquet.GenericWriter[LatencySample]
	buf      []LatencySample
	log      *logging.Logger
	disabled bool
}

// NewLatencyDump opens path for writing. On failure the dump is created
// disabled.
func NewLatencyDump(path string, log *logging.Logger) *LatencyDump {
	if log == nil {
		log = logging.Global()
	}

	d := &LatencyDump{
		log: log,
		buf: make([]LatencySample, 0, latencyBufferSize),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.disabled = true
		log.Warnf("latency dump disabled", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return d
	}

	f, err := os.Create(path)
	if err != nil {
		d.disabled = true
		log.Warnf("latency dump disabled", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return d
	}

	d.file = f
	d.writer = parquet.NewGenericWriter[LatencySample](f)
	return d
}

// Record buffers one sample.
func (d *LatencyDump) Record(tick uint64, op string, responseNs uint64) {
	if d.disabled {
		return
	}

	d.buf = append(d.buf, LatencySample{
		Tick:       int64(tick),
		Op:         op,
		ResponseNs: int64(responseNs),
	})

	if len(d.buf) >= latencyBufferSize {
		d.flush()
	}
}

func (d *LatencyDump) flush() {
	if d.disabled || len(d.buf) == 0 {
		return
	}

	if _, err := d.writer.Write(d.buf); err != nil {
		d.disabled = true
		d.log.Warnf("latency dump disabled", map[string]any{"error": err.Error()})
	}
	d.buf = d.buf[:0]
}

// Close flushes buffered samples and finalizes the Parquet file.
func (d *LatencyDump) Close() error {
	if d.file == nil {
		return nil
	}

	d.flush()

	if !d.disabled {
		if err := d.writer.Close(); err != nil {
			d.log.Warnf("latency dump close", map[string]any{"error": err.Error()})
		}
	}

	if err := d.file.Close(); err != nil {
		return fmt.Errorf("metrics: close latency dump: %w", err)
	}
	d.file = nil
	return nil
}
