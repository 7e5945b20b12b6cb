package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Evidence points at the segment that justified a code.
type Evidence struct {
	SegmentIndex int    `json:"segment_index"`
	Text         string `json:"text"`
}

// ItemGrade is the outcome for one rubric item.
type ItemGrade struct {
	ID       string    `json:"-"`
	Code     Code      `json:"code"`
	Label    string    `json:"label"`
	Status   string    `json:"status"`
	Evidence *Evidence `json:"evidence,omitempty"`
}

// Report holds one ItemGrade per rubric item, in rubric order. Its JSON form
// is an object keyed by item id that keeps that order.
type Report struct {
	Items []ItemGrade
}

// Get returns the grade for id.
func (r Report) Get(id string) (ItemGrade, bool) {
	for _, g := range r.Items {
		if g.ID == id {
			return g, true
		}
	}
	return ItemGrade{}, false
}

// Codes returns id -> code.
func (r Report) Codes() map[string]Code {
	out := make(map[string]Code, len(r.Items))
	for _, g := range r.Items {
		out[g.ID] = g.Code
	}
	return out
}

// MarshalJSON writes {"<id>": {...}, ...} in item order.
func (r Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range r.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(g.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(g)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form back, keeping document order.
func (r *Report) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		r.Items = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("grading: report must be a JSON object")
	}
	items := []ItemGrade{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("grading: unexpected key %v", tok)
		}
		var g ItemGrade
		if err := dec.Decode(&g); err != nil {
			return fmt.Errorf("grading: item %q: %w", id, err)
		}
		g.ID = id
		if g.Status == "" {
			g.Status = g.Code.Status()
		}
		items = append(items, g)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	r.Items = items
	return nil
}
