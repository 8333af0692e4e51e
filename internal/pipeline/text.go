package pipeline

import (
	"regexp"

	"github.com/your-org/racephoto/internal/recognition"
)

// candidateConfidence is reported whenever at least one bib candidate was
// found. It is a presence flag, not a probability.
const candidateConfidence = 0.9

var bibPattern = regexp.MustCompile(`^[0-9]{3,6}$`)

// Watermark corner zones, as ratios of the image size.
const (
	watermarkTop   = 0.65
	watermarkLeft  = 0.30
	watermarkRight = 0.70
)

// TextResult is the filtered output of text detection for one image.
type TextResult struct {
	Bibs       []string
	RawText    []string
	Confidence float64
}

// Found reports whether any bib candidate was extracted. Callers branch on
// this rather than on Confidence.
func (r TextResult) Found() bool {
	return len(r.Bibs) > 0
}

// TextFilter turns raw detections into bib candidates. The zero value applies
// only the word-type and digit-pattern rules.
type TextFilter struct {
	// MinConfidence drops detections below this detector confidence (0-100).
	MinConfidence float64
	// Watermark drops words starting in the bottom-left or bottom-right
	// corner, where photographer watermarks usually sit.
	Watermark bool
	// Excluded tokens are never candidates, e.g. "0000".
	Excluded map[string]bool
}

func (f TextFilter) Extract(detections []recognition.TextDetection) TextResult {
	res := TextResult{Bibs: []string{}, RawText: make([]string, 0, len(detections))}
	seen := make(map[string]bool)

	for _, d := range detections {
		res.RawText = append(res.RawText, d.Text)

		if d.Type != recognition.TextWord || !bibPattern.MatchString(d.Text) {
			continue
		}
		if f.MinConfidence > 0 && d.Confidence < f.MinConfidence {
			continue
		}
		if f.Watermark && inWatermarkZone(d.Box) {
			continue
		}
		if f.Excluded[d.Text] || seen[d.Text] {
			continue
		}
		seen[d.Text] = true
		res.Bibs = append(res.Bibs, d.Text)
	}

	if res.Found() {
		res.Confidence = candidateConfidence
	}
	return res
}

func inWatermarkZone(b recognition.Box) bool {
	if b.Top <= watermarkTop {
		return false
	}
	return b.Left < watermarkLeft || b.Left > watermarkRight
}
