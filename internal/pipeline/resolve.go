package pipeline

import (
	"github.com/your-org/racephoto/internal/models"
)

// Decision is the outcome of bib resolution. When Deferred is set the photo
// keeps its current bib and status until a later pass has better evidence.
type Decision struct {
	Resolution models.Resolution
	Deferred   bool
	Reason     string
}

// Resolve decides a photo's bib from its OCR candidates and the bibs already
// confirmed for the same faces on other photos of the event.
//
// Rules, in order:
//   - one candidate that agrees with the prior bibs (or there are none): take it
//   - no candidate and exactly one prior bib: take the prior bib
//   - several candidates of which exactly one is a prior bib: take that one
//   - no candidate and no prior bib: NONE
//
// Anything else is a conflict and is deferred rather than guessed.
func Resolve(candidates, priorBibs []string) Decision {
	prior := make(map[string]bool, len(priorBibs))
	for _, b := range priorBibs {
		prior[b] = true
	}

	switch {
	case len(candidates) == 1:
		bib := candidates[0]
		if len(prior) == 0 || prior[bib] {
			return resolved(bib, models.BibSourceOCR)
		}
		return deferred("ocr candidate contradicts bibs confirmed for the same faces")

	case len(candidates) == 0:
		switch len(prior) {
		case 0:
			return resolved(models.NoBib, models.BibSourceNone)
		case 1:
			return resolved(priorBibs[0], models.BibSourceFace)
		default:
			return deferred("faces carry several confirmed bibs")
		}

	default:
		var match string
		matches := 0
		for _, c := range candidates {
			if prior[c] {
				match = c
				matches++
			}
		}
		if matches == 1 {
			return resolved(match, models.BibSourceDisambiguated)
		}
		return deferred("several ocr candidates and no face evidence to choose between them")
	}
}

func resolved(bib string, source models.BibSource) Decision {
	return Decision{Resolution: models.Resolution{Bib: bib, Source: source}}
}

func deferred(reason string) Decision {
	return Decision{Deferred: true, Reason: reason}
}
