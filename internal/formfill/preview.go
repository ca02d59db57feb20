package formfill

import (
	"context"

	"github.com/arji-ai/arji/internal/merge"
	"github.com/arji-ai/arji/internal/schema"
)

// PreviewField is one form control as it would be filled.
type PreviewField struct {
	Field     string         `json:"field"`
	Label     string         `json:"label"`
	Value     string         `json:"value"`
	Control   schema.Control `json:"control"`
	Required  bool           `json:"required"`
	Confirmed bool           `json:"confirmed"`
}

// Preview pairs the would-be form content with a readiness flag.
type Preview struct {
	// Ready is true once every required field is confirmed.
	Ready  bool           `json:"ready"`
	Fields []PreviewField `json:"fields"`
}

// Preview reports what a fill would type into the form right now, in apply
// order, without touching a browser.
func (e *Engine) Preview(ctx context.Context, sessionID string) (*Preview, error) {
	sess, err := e.machine.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	all := e.reg.AllFields()
	p := &Preview{
		Ready:  merge.RequiredConfirmed(all, sess.FieldStates),
		Fields: make([]PreviewField, 0, len(all)),
	}
	for _, f := range all {
		if f.Selector == "" {
			continue
		}
		p.Fields = append(p.Fields, PreviewField{
			Field:     f.Name,
			Label:     f.Label,
			Value:     sess.Record[f.Name],
			Control:   f.Control,
			Required:  f.Required,
			Confirmed: sess.FieldStates[f.Name] == merge.StateConfirmed,
		})
	}
	return p, nil
}
