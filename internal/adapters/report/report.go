// Package report writes the plain-text diagnostic stream: per-cell
// difference lines, gap search lines and prediction lines.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"strconv"
	"sync"

	"github.com/okian/vmafmotion/internal/domain/predict"
	"github.com/okian/vmafmotion/internal/domain/search"
)

// Writer serializes lines onto one stream. It is safe for concurrent use;
// each call writes whole lines.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// New returns a Writer over w.
func New(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// CellDiffs writes one comma-separated line of absolute differences. The
// frame index is not part of the line.
func (w *Writer) CellDiffs(_ int, diffs iter.Seq2[int, float32]) error {
	var line []byte
	first := true
	for _, d := range diffs {
		if !first {
			line = append(line, ',')
		}
		line = strconv.AppendFloat(line, float64(d), 'f', 6, 64)
		first = false
	}
	line = append(line, '\n')
	return w.write(line)
}

// SearchResult writes "<score>,<lower>,<upper>".
func (w *Writer) SearchResult(r search.Result) error {
	return w.write(fmt.Appendf(nil, "%f,%d,%d\n", r.Score, r.Lower, r.Upper))
}

// Prediction writes "<model>,<frame>,<score>" with ",<lower>,<upper>"
// appended when the score carries an interval.
func (w *Writer) Prediction(model string, frame int, s predict.Score) error {
	line := fmt.Appendf(nil, "%s,%d,%f", model, frame, s.Value)
	if s.CI != nil {
		line = fmt.Appendf(line, ",%f,%f", s.CI.Lower, s.CI.Upper)
	}
	return w.write(append(line, '\n'))
}

// Block collects the lines of one invocation. They reach the parent stream
// in one piece when Commit is called, so concurrent invocations never
// interleave.
type Block struct {
	*Writer
	parent *Writer
	buf    *bytes.Buffer
}

// Block starts an empty Block on w.
func (w *Writer) Block() *Block {
	buf := &bytes.Buffer{}
	return &Block{Writer: New(buf), parent: w, buf: buf}
}

// Commit appends the collected lines to the parent stream and empties the
// block.
func (b *Block) Commit() error {
	if err := b.Writer.Flush(); err != nil {
		return err
	}
	defer b.buf.Reset()
	if b.buf.Len() == 0 {
		return nil
	}
	return b.parent.write(b.buf.Bytes())
}

// Flush writes any buffered lines to the underlying stream.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

func (w *Writer) write(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return fmt.Errorf("write report line: %w", err)
	}
	return nil
}
