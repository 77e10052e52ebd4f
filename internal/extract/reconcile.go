package extract

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"extrapl/api/internal/store"
	"extrapl/api/internal/tool"
)

// noise values never overwrite useful prior data.
var noiseValues = map[string]struct{}{
	"":          {},
	"not found": {},
	"n/a":       {},
	"na":        {},
	"none":      {},
	"null":      {},
}

// IsNoise reports whether an extracted value carries no information.
func IsNoise(v string) bool {
	_, ok := noiseValues[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// FieldID returns the field identifier for one output field of a value. The
// primary field is the value itself; extra fields of multi-field values get a
// deterministic derived id so uniqueness never collides across sub-fields.
func FieldID(valueID string, index int) string {
	if index == 0 {
		return valueID
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s_field_%d", valueID, index)))
	return hex.EncodeToString(sum[:])
}

// Plan is the result of reconciling one tool invocation against stored rows.
// It is computed without side effects and applied in a single transaction.
type Plan struct {
	Creates   []store.FieldValidation
	Updates   []store.ValidationUpdate
	DeleteIDs []string
	Skipped   int
}

// Empty reports whether applying the plan would write nothing.
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.DeleteIDs) == 0
}

// ReconcileArgs collects the inputs of one reconcile pass.
type ReconcileArgs struct {
	SessionID      string
	StepID         string
	Value          store.StepValue
	OperationType  string // extract | create
	Rows           []tool.Row
	Existing       []store.FieldValidation // stored rows for this (session, value)
	DocumentSource string
	NewID          func() string
}

// BuildPlan decides per extracted row whether to create, update, or skip a
// validation record. Human-confirmed rows (valid, verified) are never
// touched, and noise values never displace stored data.
func BuildPlan(args ReconcileArgs) Plan {
	var plan Plan

	byKey := make(map[string]store.FieldValidation, len(args.Existing))
	for _, fv := range args.Existing {
		byKey[fv.FieldID+"|"+fv.IdentifierID] = fv
	}

	isCreateOp := args.OperationType == "create"

	for i, row := range args.Rows {
		values := append([]string{row.ExtractedValue}, row.Fields...)
		for fieldIdx, val := range values {
			if isCreateOp && IsNoise(val) {
				// create-type tools filter null-ish results out entirely
				continue
			}

			fieldID := FieldID(args.Value.ID, fieldIdx)
			existing, found := byKey[fieldID+"|"+row.IdentifierID]

			if found {
				if existing.ValidationStatus == "valid" || existing.ValidationStatus == "verified" {
					plan.Skipped++
					continue
				}
				if IsNoise(val) {
					plan.Skipped++
					continue
				}
				plan.Updates = append(plan.Updates, store.ValidationUpdate{
					ID:               existing.ID,
					ExtractedValue:   val,
					ValidationStatus: "pending",
					AIReasoning:      row.Reasoning,
					ConfidenceScore:  row.Confidence,
					DocumentSource:   args.DocumentSource,
					RecordIndex:      i,
				})
				continue
			}

			if IsNoise(val) {
				plan.Skipped++
				continue
			}
			plan.Creates = append(plan.Creates, store.FieldValidation{
				ID:               args.NewID(),
				SessionID:        args.SessionID,
				StepID:           args.StepID,
				ValueID:          args.Value.ID,
				FieldID:          fieldID,
				IdentifierID:     row.IdentifierID,
				RecordIndex:      i,
				ExtractedValue:   val,
				ValidationStatus: "pending",
				AIReasoning:      row.Reasoning,
				ConfidenceScore:  row.Confidence,
				DocumentSource:   args.DocumentSource,
			})
		}
	}

	return plan
}

// StaleIdentifierRows lists validation rows of a step whose identifiers are
// absent from the freshly extracted identifier set. Used after an identifier
// column re-extraction to clear rows of vanished logical records.
// Human-confirmed rows are preserved even when their identifier vanished.
func StaleIdentifierRows(stepValidations []store.FieldValidation, keep map[string]bool) []string {
	var ids []string
	for _, fv := range stepValidations {
		if fv.IdentifierID == "" || keep[fv.IdentifierID] {
			continue
		}
		if fv.ValidationStatus == "valid" || fv.ValidationStatus == "verified" {
			continue
		}
		ids = append(ids, fv.ID)
	}
	return ids
}
