package motion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/okian/vmafmotion/pkg/logger"
)

// ErrInvalidCells reports a malformed motion-cell restriction list.
var ErrInvalidCells = errors.New("invalid motion cell list")

// ParseCells reads the first line of r as comma-separated row-major pixel
// indices into a width x height frame, preserving file order. Empty tokens
// (such as a trailing comma) are ignored.
func ParseCells(r io.Reader, width, height int) ([]int, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read cells: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCells)
	}

	n := width * height
	cells := make([]int, 0, strings.Count(line, ",")+1)
	for i, tok := range strings.Split(line, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		c, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d %q", ErrInvalidCells, i, tok)
		}
		if c < 0 || c >= n {
			return nil, fmt.Errorf("%w: cell %d outside %dx%d", ErrInvalidCells, c, width, height)
		}
		cells = append(cells, c)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: no cells", ErrInvalidCells)
	}
	return cells, nil
}

// LoadCells reads a motion-cell file. A missing, unreadable or malformed
// file is not fatal: it logs a warning and returns nil, which means the
// whole plane is compared.
func LoadCells(ctx context.Context, log logger.Logger, path string, width, height int) []int {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		log.Warn(ctx, "motion cell file not opened; comparing full planes", logger.String("path", path), logger.Error(err))
		return nil
	}
	defer func() { _ = f.Close() }()

	cells, err := ParseCells(f, width, height)
	if err != nil {
		log.Warn(ctx, "motion cell file ignored; comparing full planes", logger.String("path", path), logger.Error(err))
		return nil
	}
	log.Debug(ctx, "motion cells loaded", logger.String("path", path), logger.Int("cells", len(cells)))
	return cells
}
