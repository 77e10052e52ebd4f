// Package extract implements the column extraction pipeline: resolving a step
// value's configured inputs, tracking row identity across incremental
// extractions, and reconciling tool output into field validation records.
package extract

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"extrapl/api/internal/store"
)

// Special reference literals usable in input configurations.
const (
	RefUserDocument      = "@user_document"
	RefReferenceDocument = "@reference_document"
)

type InputKind int

const (
	KindLiteral InputKind = iota
	KindStepReference
	KindValueIDReference
	KindUserDocument
	KindReferenceDocument
)

// InputSpec is one parsed entry of a step value's inputValues configuration.
type InputSpec struct {
	Name      string
	Kind      InputKind
	Literal   string
	StepName  string
	ValueName string
	ValueIDs  []string
}

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ParseInputValues decodes an inputValues JSON object into typed specs,
// sorted by parameter name for deterministic prompt assembly.
func ParseInputValues(raw json.RawMessage) ([]InputSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode input values: %w", err)
	}

	specs := make([]InputSpec, 0, len(m))
	for name, v := range m {
		spec := InputSpec{Name: name}
		switch val := v.(type) {
		case string:
			spec = parseStringSpec(name, val)
		case []any:
			ids := make([]string, 0, len(val))
			allUUIDs := len(val) > 0
			for _, el := range val {
				s, ok := el.(string)
				if !ok || !uuidRe.MatchString(s) {
					allUUIDs = false
					break
				}
				ids = append(ids, s)
			}
			if allUUIDs {
				spec.Kind = KindValueIDReference
				spec.ValueIDs = ids
			} else {
				spec.Kind = KindLiteral
				spec.Literal = fmt.Sprint(val)
			}
		default:
			spec.Kind = KindLiteral
			spec.Literal = fmt.Sprint(v)
		}
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func parseStringSpec(name, val string) InputSpec {
	spec := InputSpec{Name: name}
	switch val {
	case RefUserDocument:
		spec.Kind = KindUserDocument
		return spec
	case RefReferenceDocument:
		spec.Kind = KindReferenceDocument
		return spec
	}

	if !strings.HasPrefix(val, "@") {
		spec.Kind = KindLiteral
		spec.Literal = val
		return spec
	}

	ref := strings.TrimPrefix(val, "@")
	spec.Kind = KindStepReference
	if i := strings.Index(ref, "::"); i >= 0 {
		spec.StepName = ref[:i]
		spec.ValueName = ref[i+2:]
	} else if i := strings.Index(ref, "."); i >= 0 {
		spec.StepName = ref[:i]
		spec.ValueName = ref[i+1:]
	} else {
		spec.ValueName = ref
	}
	return spec
}

// RefValue is one prior-column value keyed by its row identifier.
type RefValue struct {
	IdentifierID string
	Value        string
}

// MergedRecord is one logical row assembled from several referenced columns.
type MergedRecord struct {
	IdentifierID string
	Fields       map[string]string
}

// ResolvedInput is the concrete data produced for one InputSpec.
type ResolvedInput struct {
	Spec    InputSpec
	Text    string
	Rows    []RefValue
	Records []MergedRecord
}

// Resolver turns input specs into concrete data using the session's current
// validation rows and the project's workflow layout.
type Resolver struct {
	Steps                 []store.WorkflowStep
	Values                []store.StepValue
	Validations           []store.FieldValidation
	UserDocumentText      string
	ReferenceDocumentText string
}

// Resolve never fails hard: unresolved references degrade to empty data with
// a logged warning, matching the tolerant behavior extraction depends on.
func (r *Resolver) Resolve(spec InputSpec) ResolvedInput {
	out := ResolvedInput{Spec: spec}
	switch spec.Kind {
	case KindLiteral:
		out.Text = spec.Literal
	case KindUserDocument:
		out.Text = r.UserDocumentText
	case KindReferenceDocument:
		out.Text = r.ReferenceDocumentText
	case KindStepReference:
		out.Rows = r.resolveStepReference(spec)
	case KindValueIDReference:
		out.Records = r.resolveValueIDs(spec.ValueIDs)
	}
	return out
}

func (r *Resolver) resolveStepReference(spec InputSpec) []RefValue {
	sv, ok := r.findValue(spec.StepName, spec.ValueName)
	if !ok {
		log.Printf("extract: unresolved reference @%s on input %q", spec.ValueName, spec.Name)
		return nil
	}

	rows := make([]RefValue, 0)
	for _, fv := range sortedByRecordIndex(r.Validations) {
		if fv.ValueID != sv.ID {
			continue
		}
		rows = append(rows, RefValue{IdentifierID: fv.IdentifierID, Value: fv.ExtractedValue})
	}
	return rows
}

func (r *Resolver) findValue(stepName, valueName string) (store.StepValue, bool) {
	var stepID string
	if stepName != "" {
		for _, st := range r.Steps {
			if strings.EqualFold(st.StepName, stepName) {
				stepID = st.ID
				break
			}
		}
		if stepID == "" {
			return store.StepValue{}, false
		}
	}

	for _, sv := range r.Values {
		if stepID != "" && sv.StepID != stepID {
			continue
		}
		if strings.EqualFold(sv.ValueName, valueName) {
			return sv, true
		}
	}
	return store.StepValue{}, false
}

// resolveValueIDs groups validations of the referenced columns by row
// identifier, building one record per row with one key per referenced column.
func (r *Resolver) resolveValueIDs(ids []string) []MergedRecord {
	nameByValue := make(map[string]string, len(ids))
	for _, id := range ids {
		found := false
		for _, sv := range r.Values {
			if sv.ID == id {
				nameByValue[id] = sv.ValueName
				found = true
				break
			}
		}
		if !found {
			log.Printf("extract: unresolved value reference %s", id)
		}
	}

	byID := make(map[string]*MergedRecord)
	var order []string
	for _, fv := range sortedByRecordIndex(r.Validations) {
		name, ok := nameByValue[fv.ValueID]
		if !ok || fv.IdentifierID == "" {
			continue
		}
		rec, seen := byID[fv.IdentifierID]
		if !seen {
			rec = &MergedRecord{IdentifierID: fv.IdentifierID, Fields: make(map[string]string)}
			byID[fv.IdentifierID] = rec
			order = append(order, fv.IdentifierID)
		}
		rec.Fields[name] = fv.ExtractedValue
	}

	records := make([]MergedRecord, 0, len(order))
	for _, id := range order {
		records = append(records, *byID[id])
	}
	return records
}

func sortedByRecordIndex(fvs []store.FieldValidation) []store.FieldValidation {
	out := make([]store.FieldValidation, len(fvs))
	copy(out, fvs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordIndex < out[j].RecordIndex })
	return out
}
