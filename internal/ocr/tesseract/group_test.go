package tesseract

import (
	"testing"

	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/ocr"
)

func TestGroupLayout(t *testing.T) {
	words := []word{
		{bbox: geom.BBox{X: 100, Y: 10, W: 40, H: 20}, text: "שלום", conf: 90, block: 1, par: 1, line: 1},
		{bbox: geom.BBox{X: 150, Y: 10, W: 40, H: 20}, text: "עולם", conf: 80, block: 1, par: 1, line: 1},
		{bbox: geom.BBox{X: 100, Y: 40, W: 90, H: 20}, text: "שני", conf: 70, block: 1, par: 1, line: 2},
		{bbox: geom.BBox{X: 400, Y: 12, W: 50, H: 18}, text: "אחר", conf: 60, block: 2, par: 1, line: 1},
	}

	regions := groupLayout(words)

	var blocks, lines []ocr.Region
	for _, r := range regions {
		switch r.Level {
		case ocr.LevelBlock:
			blocks = append(blocks, r)
		case ocr.LevelLine:
			lines = append(lines, r)
		}
	}

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	// Block 1 unions both of its lines.
	b1 := blocks[0]
	if b1.BlockNum != 1 {
		t.Fatalf("first block num = %d, want 1", b1.BlockNum)
	}
	wantBox := geom.BBox{X: 100, Y: 10, W: 90, H: 50}
	if b1.BBox != wantBox {
		t.Errorf("block 1 box = %+v, want %+v", b1.BBox, wantBox)
	}

	// First line joins word text in detection order.
	l1 := lines[0]
	if l1.Text != "שלום עולם" {
		t.Errorf("line 1 text = %q", l1.Text)
	}
	if l1.BlockNum != 1 || l1.ParNum != 1 || l1.LineNum != 1 {
		t.Errorf("line 1 numbering = %d/%d/%d", l1.BlockNum, l1.ParNum, l1.LineNum)
	}
	if l1.BBox != (geom.BBox{X: 100, Y: 10, W: 90, H: 20}) {
		t.Errorf("line 1 box = %+v", l1.BBox)
	}
	if l1.Conf != 85 {
		t.Errorf("line 1 conf = %v, want mean 85", l1.Conf)
	}

	// Lines are ordered by block, paragraph, line numbering.
	if lines[1].LineNum != 2 || lines[2].BlockNum != 2 {
		t.Errorf("line ordering wrong: %+v", lines)
	}
}

func TestGroupLayoutEmpty(t *testing.T) {
	if got := groupLayout(nil); got != nil {
		t.Errorf("no words should produce no regions, got %v", got)
	}
}
