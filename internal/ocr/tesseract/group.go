package tesseract

import (
	"sort"
	"strings"

	"github.com/jackzampolin/dafmap/internal/geom"
	"github.com/jackzampolin/dafmap/internal/ocr"
)

// word is one recognized token with its hierarchy numbering.
type word struct {
	bbox  geom.BBox
	text  string
	conf  float64
	block int
	par   int
	line  int
}

type lineKey struct {
	block, par, line int
}

// groupLayout reconstructs block (level 2) and line (level 4) regions from
// word detections by unioning boxes that share hierarchy numbers. Line text
// is the space-joined word text in detection order; block regions carry no
// text. Output order: blocks first, then lines, each sorted by numbering.
func groupLayout(words []word) []ocr.Region {
	if len(words) == 0 {
		return nil
	}

	blockBoxes := make(map[int]geom.BBox)
	lineBoxes := make(map[lineKey]geom.BBox)
	lineWords := make(map[lineKey][]string)
	lineConf := make(map[lineKey]float64)
	lineCount := make(map[lineKey]int)

	for _, w := range words {
		blockBoxes[w.block] = blockBoxes[w.block].Union(w.bbox)

		k := lineKey{w.block, w.par, w.line}
		lineBoxes[k] = lineBoxes[k].Union(w.bbox)
		lineWords[k] = append(lineWords[k], w.text)
		lineConf[k] += w.conf
		lineCount[k]++
	}

	blockNums := make([]int, 0, len(blockBoxes))
	for n := range blockBoxes {
		blockNums = append(blockNums, n)
	}
	sort.Ints(blockNums)

	lineKeys := make([]lineKey, 0, len(lineBoxes))
	for k := range lineBoxes {
		lineKeys = append(lineKeys, k)
	}
	sort.Slice(lineKeys, func(i, j int) bool {
		a, b := lineKeys[i], lineKeys[j]
		if a.block != b.block {
			return a.block < b.block
		}
		if a.par != b.par {
			return a.par < b.par
		}
		return a.line < b.line
	})

	out := make([]ocr.Region, 0, len(blockNums)+len(lineKeys))
	for _, n := range blockNums {
		out = append(out, ocr.Region{
			Level:    ocr.LevelBlock,
			BBox:     blockBoxes[n],
			BlockNum: n,
		})
	}
	for _, k := range lineKeys {
		out = append(out, ocr.Region{
			Level:    ocr.LevelLine,
			BBox:     lineBoxes[k],
			Text:     strings.Join(lineWords[k], " "),
			Conf:     lineConf[k] / float64(lineCount[k]),
			BlockNum: k.block,
			ParNum:   k.par,
			LineNum:  k.line,
		})
	}
	return out
}
