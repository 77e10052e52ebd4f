package tool

import (
	"context"
	"strings"
	"time"
)

// registerBuiltins installs the code tools that ship with the product. They
// operate on resolved inputs only and never call the AI model.
func registerBuiltins(r *Runner) {
	r.RegisterCode("today", codeToday)
	r.RegisterCode("concat", codeConcat)
	r.RegisterCode("uppercase", codeUppercase)
	r.RegisterCode("passthrough", codePassthrough)
}

func codeToday(ctx context.Context, req Request) ([]Row, error) {
	return []Row{{
		ExtractedValue: time.Now().UTC().Format("2006-01-02"),
		Confidence:     ConfidenceHigh,
	}}, nil
}

// codeConcat joins inputs per record. Inputs without an identifier apply to
// every record.
func codeConcat(ctx context.Context, req Request) ([]Row, error) {
	byID := make(map[string][]string)
	var order []string
	var global []string
	for _, in := range req.Inputs {
		if in.IdentifierID == "" {
			global = append(global, in.Value)
			continue
		}
		if _, seen := byID[in.IdentifierID]; !seen {
			order = append(order, in.IdentifierID)
		}
		byID[in.IdentifierID] = append(byID[in.IdentifierID], in.Value)
	}

	if len(order) == 0 {
		return []Row{{
			ExtractedValue: strings.Join(global, " "),
			Confidence:     ConfidenceHigh,
		}}, nil
	}

	rows := make([]Row, 0, len(order))
	for _, id := range order {
		parts := append(append([]string{}, global...), byID[id]...)
		rows = append(rows, Row{
			IdentifierID:   id,
			ExtractedValue: strings.Join(parts, " "),
			Confidence:     ConfidenceHigh,
		})
	}
	return rows, nil
}

func codeUppercase(ctx context.Context, req Request) ([]Row, error) {
	rows, err := codeConcat(ctx, req)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].ExtractedValue = strings.ToUpper(rows[i].ExtractedValue)
	}
	return rows, nil
}

func codePassthrough(ctx context.Context, req Request) ([]Row, error) {
	return codeConcat(ctx, req)
}
