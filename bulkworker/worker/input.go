package worker

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/pkg/errors"
)

// ParseInput reads one numeric account id per line. Blank lines are skipped,
// a leading byte order mark is ignored and duplicates are dropped keeping the
// first occurrence.
func ParseInput(r io.Reader) ([]int64, error) {
	sc := bufio.NewScanner(utfbom.SkipOnly(r))
	seen := make(map[int64]struct{})
	var ids []int64

	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Wrapf(ErrInvalidInput, "line %d: %q", line, text)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read input")
	}
	return ids, nil
}
