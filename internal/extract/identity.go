package extract

import (
	"errors"
	"log"
	"sort"

	"extrapl/api/internal/store"
	"extrapl/api/internal/tool"
	"github.com/google/uuid"
)

// ErrMissingAnchors is returned when previous data references rows that no
// longer exist at all, meaning the anchor column was deleted or re-extracted
// underneath the caller.
var ErrMissingAnchors = errors.New("no anchor records exist for the supplied previous data")

// PrevRecord is one prior logical row, keyed by identifier, with the values
// of already-extracted columns.
type PrevRecord struct {
	IdentifierID string
	Fields       map[string]string
}

// BuildPreviousData groups the step's existing validations by row identifier,
// excluding the column currently being extracted. Row order follows the
// lowest record index seen per identifier.
func BuildPreviousData(values []store.StepValue, validations []store.FieldValidation, excludeValueID string) []PrevRecord {
	nameByValue := make(map[string]string, len(values))
	for _, sv := range values {
		if sv.ID == excludeValueID {
			continue
		}
		nameByValue[sv.ID] = sv.ValueName
	}

	byID := make(map[string]*PrevRecord)
	firstIndex := make(map[string]int)
	var order []string
	for _, fv := range validations {
		name, ok := nameByValue[fv.ValueID]
		if !ok || fv.IdentifierID == "" {
			continue
		}
		rec, seen := byID[fv.IdentifierID]
		if !seen {
			rec = &PrevRecord{IdentifierID: fv.IdentifierID, Fields: make(map[string]string)}
			byID[fv.IdentifierID] = rec
			firstIndex[fv.IdentifierID] = fv.RecordIndex
			order = append(order, fv.IdentifierID)
		}
		rec.Fields[name] = fv.ExtractedValue
		if fv.RecordIndex < firstIndex[fv.IdentifierID] {
			firstIndex[fv.IdentifierID] = fv.RecordIndex
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return firstIndex[order[i]] < firstIndex[order[j]] })

	records := make([]PrevRecord, 0, len(order))
	for _, id := range order {
		records = append(records, *byID[id])
	}
	return records
}

// CheckAnchors verifies that the identifiers in previous data still exist in
// the step's stored rows. All anchors gone is a hard failure; a partial loss
// proceeds with a warning and returns the missing identifiers.
func CheckAnchors(prev []PrevRecord, existing []store.FieldValidation) ([]string, error) {
	if len(prev) == 0 {
		return nil, nil
	}

	present := make(map[string]bool, len(existing))
	for _, fv := range existing {
		if fv.IdentifierID != "" {
			present[fv.IdentifierID] = true
		}
	}

	var missing []string
	for _, rec := range prev {
		if !present[rec.IdentifierID] {
			missing = append(missing, rec.IdentifierID)
		}
	}

	if len(missing) == len(prev) {
		return missing, ErrMissingAnchors
	}
	if len(missing) > 0 {
		log.Printf("extract: %d of %d anchor rows missing, proceeding", len(missing), len(prev))
	}
	return missing, nil
}

// AssignIdentifierColumn fixes up row identifiers for the identifier column.
// AI-supplied identifiers are kept; otherwise a re-extraction reuses the
// stored identifier at the same position so repeat runs stay idempotent, and
// genuinely new rows get a fresh UUID.
func AssignIdentifierColumn(rows []tool.Row, existing []store.FieldValidation) []tool.Row {
	existingIDs := identifiersInOrder(existing)

	out := make([]tool.Row, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].IdentifierID != "" {
			continue
		}
		if i < len(existingIDs) {
			out[i].IdentifierID = existingIDs[i]
			continue
		}
		out[i].IdentifierID = uuid.NewString()
	}
	return out
}

// AssignDependentColumn validates tool-returned identifiers against the known
// anchor rows. Unknown identifiers are replaced with fresh ones rather than
// silently attached to someone else's row; absent identifiers fall back to
// positional alignment with the anchor order.
func AssignDependentColumn(rows []tool.Row, prev []PrevRecord) []tool.Row {
	known := make(map[string]bool, len(prev))
	for _, rec := range prev {
		known[rec.IdentifierID] = true
	}

	out := make([]tool.Row, len(rows))
	copy(out, rows)
	for i := range out {
		id := out[i].IdentifierID
		if id != "" && known[id] {
			continue
		}
		if id != "" && !known[id] {
			log.Printf("extract: tool returned unknown identifier %s, minting a new row", id)
			out[i].IdentifierID = uuid.NewString()
			continue
		}
		if i < len(prev) {
			out[i].IdentifierID = prev[i].IdentifierID
			continue
		}
		out[i].IdentifierID = uuid.NewString()
	}
	return out
}

// identifiersInOrder lists the distinct identifiers of the given validations
// in record index order.
func identifiersInOrder(fvs []store.FieldValidation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, fv := range sortedByRecordIndex(fvs) {
		if fv.IdentifierID == "" || seen[fv.IdentifierID] {
			continue
		}
		seen[fv.IdentifierID] = true
		ids = append(ids, fv.IdentifierID)
	}
	return ids
}
