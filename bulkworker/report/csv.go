package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledgerly/servicing-app/servicing/models"
	"github.com/pkg/errors"
)

var header = []string{"account_id", "original_requester_ids", "action_code", "reason_code", "error"}

// Meta is the job level information repeated on every row.
type Meta struct {
	ActionCode models.ActionCode
	ReasonCode string
}

// ParseDelimiter validates a configured delimiter. It must be a single
// character that csv accepts as a separator.
func ParseDelimiter(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, errors.Errorf("output delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, errors.Errorf("invalid output delimiter %q", s)
	}
	return r, nil
}

// WriteCSV writes rows with a header line. Requester ids are comma joined
// within their column.
func WriteCSV(w io.Writer, rows []models.JobOutputRow, meta Meta, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter

	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "failed to write report header")
	}

	for _, row := range rows {
		ids := make([]string, len(row.RequesterIDs))
		for i, id := range row.RequesterIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		record := []string{
			strconv.FormatInt(row.AccountID, 10),
			strings.Join(ids, ","),
			string(meta.ActionCode),
			meta.ReasonCode,
			row.Error,
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write report row for account %d", row.AccountID)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush report")
}
