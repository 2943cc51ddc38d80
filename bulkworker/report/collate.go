// Package report turns per requester results into the job's output rows.
package report

import (
	"sort"

	"github.com/ledgerly/servicing-app/servicing/models"
)

// Preprocessed is the outcome for one requester: either an error code or the
// accounts its rules affected.
type Preprocessed struct {
	RequesterID int64
	Error       string
	Affected    []int64
}

// Collate inverts requester→affected into affected→requesters. Errored
// requesters get a standalone row. Rows are sorted by account id.
func Collate(entries []Preprocessed) []models.JobOutputRow {
	byAccount := make(map[int64]map[int64]struct{})
	var errored []models.JobOutputRow

	for _, e := range entries {
		if e.Error != "" {
			errored = append(errored, models.JobOutputRow{AccountID: e.RequesterID, Error: e.Error})
			continue
		}
		for _, acct := range e.Affected {
			set, ok := byAccount[acct]
			if !ok {
				set = make(map[int64]struct{})
				byAccount[acct] = set
			}
			set[e.RequesterID] = struct{}{}
		}
	}

	rows := make([]models.JobOutputRow, 0, len(byAccount)+len(errored))
	for acct, set := range byAccount {
		rows = append(rows, models.JobOutputRow{AccountID: acct, RequesterIDs: sortedIDs(set)})
	}
	return Merge(append(rows, errored...))
}

// Merge collapses rows sharing an account id into one, keeping the union of
// requesters and the first error seen, and sorts the result by account id.
func Merge(rows []models.JobOutputRow) []models.JobOutputRow {
	index := make(map[int64]int, len(rows))
	requesters := make(map[int64]map[int64]struct{}, len(rows))
	var merged []models.JobOutputRow

	for _, row := range rows {
		i, ok := index[row.AccountID]
		if !ok {
			i = len(merged)
			index[row.AccountID] = i
			merged = append(merged, models.JobOutputRow{AccountID: row.AccountID})
			requesters[row.AccountID] = make(map[int64]struct{})
		}
		if merged[i].Error == "" {
			merged[i].Error = row.Error
		}
		for _, id := range row.RequesterIDs {
			requesters[row.AccountID][id] = struct{}{}
		}
	}

	for i := range merged {
		if set := requesters[merged[i].AccountID]; len(set) > 0 {
			merged[i].RequesterIDs = sortedIDs(set)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].AccountID < merged[j].AccountID })
	return merged
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
