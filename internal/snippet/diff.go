package snippet

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type region struct {
	removed bool
	text    string
}

// changedRegions diffs before and after line by line, ignoring leading and
// trailing whitespace on each line. Region text is the original lines of
// the side it came from.
func changedRegions(before, after string) []region {
	oldLines := strings.Split(before, "\n")
	newLines := strings.Split(after, "\n")

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(trimLines(oldLines), trimLines(newLines))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineArray)

	var regions []region
	oldAt, newAt := 0, 0
	for _, d := range diffs {
		n := lineCount(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			oldAt += n
			newAt += n
		case diffmatchpatch.DiffDelete:
			regions = append(regions, region{removed: true, text: joinRange(oldLines, oldAt, n)})
			oldAt += n
		case diffmatchpatch.DiffInsert:
			regions = append(regions, region{text: joinRange(newLines, newAt, n)})
			newAt += n
		}
	}
	return regions
}

func trimLines(lines []string) string {
	trimmed := make([]string, len(lines))
	for i, l := range lines {
		trimmed[i] = strings.TrimSpace(l)
	}
	return strings.Join(trimmed, "\n")
}

// lineCount counts the lines of a diff chunk. Chunks end in a newline
// except the final line of the text.
func lineCount(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func joinRange(lines []string, from, n int) string {
	if from >= len(lines) {
		return ""
	}
	to := from + n
	if to > len(lines) {
		to = len(lines)
	}
	return strings.Join(lines[from:to], "\n")
}
