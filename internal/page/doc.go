package page

import (
	"encoding/base64"
	"math"
	"strings"
	"time"
)

// Doc is the persisted page artifact derived from a finalized run: the page
// reference, source pointer, page image, and the normalized segment boxes.
type Doc struct {
	ID        string      `json:"id"`
	Ref       string      `json:"ref"`
	SourcePDF string      `json:"source_pdf"`
	ImageData string      `json:"base64_data,omitempty"`
	BBoxes    []BBoxEntry `json:"bboxes"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BBoxEntry is one normalized, segment-labeled line box. Coordinates are
// fractions of the page dimensions in [0, 1], rounded to six decimals.
type BBoxEntry struct {
	Ref    string  `json:"ref"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RefFromRange derives the page reference from a reference range by
// dropping the segment window: "Berakhot 2a:1-6" becomes "Berakhot 2a".
func RefFromRange(refRange string) string {
	refRange = strings.TrimSpace(refRange)
	if refRange == "" {
		return "Unknown"
	}
	if i := strings.Index(refRange, ":"); i >= 0 {
		return strings.TrimSpace(refRange[:i])
	}
	return refRange
}

// BuildDoc derives the page document from a completed run state. One box is
// emitted per line per span; the span's end line is right-truncated at
// end_cut_x when set, and degenerate boxes are dropped.
func BuildDoc(st *State, now time.Time) *Doc {
	doc := &Doc{
		Ref:       RefFromRange(st.RefRange),
		SourcePDF: strings.TrimSpace(st.PDF),
		BBoxes:    spanBoxes(st),
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.ID = doc.Ref
	if len(st.PageImage) > 0 {
		doc.ImageData = base64.StdEncoding.EncodeToString(st.PageImage)
	}
	return doc
}

func spanBoxes(st *State) []BBoxEntry {
	out := []BBoxEntry{}
	if len(st.Lines) == 0 || st.PageW <= 0 || st.PageH <= 0 {
		return out
	}

	ordered := st.AllLineIDsInOrder()
	index := make(map[string]int, len(ordered))
	for i, id := range ordered {
		index[id] = i
	}

	for _, sp := range st.Spans {
		if sp.SegRef == "" {
			continue
		}
		iStart, okS := index[sp.StartLineID]
		iEnd, okE := index[sp.EndLineID]
		if !okS || !okE || iEnd < iStart {
			continue
		}

		for _, lid := range ordered[iStart : iEnd+1] {
			ln := st.Lines[lid]
			x, y, w, h := ln.BBox.X, ln.BBox.Y, ln.BBox.W, ln.BBox.H

			if lid == sp.EndLineID && sp.EndCutX != nil {
				right := min(x+w, *sp.EndCutX)
				w = max(0, right-x)
			}
			if w <= 0 || h <= 0 {
				continue
			}

			out = append(out, BBoxEntry{
				Ref:    sp.SegRef,
				Top:    round6(float64(y) / float64(st.PageH)),
				Left:   round6(float64(x) / float64(st.PageW)),
				Width:  round6(float64(w) / float64(st.PageW)),
				Height: round6(float64(h) / float64(st.PageH)),
			})
		}
	}
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
