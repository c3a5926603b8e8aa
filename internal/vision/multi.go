// File: internal/vision/multi.go
package vision

import (
	"image"
	"math"
	"sort"
)

// MatchAll returns every location where tmpl scores at least threshold,
// strongest first, with overlapping hits collapsed: any hit whose center lies
// within minDist pixels of an already accepted, stronger hit is dropped.
func MatchAll(screenshot image.Image, tmpl Template, threshold float64, minDist int) ([]MatchResult, error) {
	sg, tg, err := matchInputs(screenshot, tmpl)
	if err != nil {
		return nil, err
	}

	tw, th := tg.Rect.Dx(), tg.Rect.Dy()
	budget := int64(tw*th) * maxSq
	// Every offset worse than the threshold-derived limit is rejected early.
	limit := int64(float64(budget) * (1.0 - threshold))

	var hits []MatchResult
	for y := 0; y <= sg.Rect.Dy()-th; y++ {
		for x := 0; x <= sg.Rect.Dx()-tw; x++ {
			d := diffAt(sg, tg, x, y, limit)
			if d > limit {
				continue
			}
			hits = append(hits, MatchResult{
				Found:      true,
				Confidence: 1.0 - float64(d)/float64(budget),
				Bounds:     image.Rect(x, y, x+tw, y+th),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Confidence > hits[j].Confidence })

	var unique []MatchResult
	for _, h := range hits {
		keep := true
		for _, u := range unique {
			if centerDistance(h, u) < float64(minDist) {
				keep = false
				break
			}
		}
		if keep {
			unique = append(unique, h)
		}
	}
	return unique, nil
}

// FilterBrightness keeps only the results whose screenshot pixel at the match
// center is brighter than min. The charge screen renders disabled "use"
// buttons dimmed; this is how they are told apart from tappable ones.
func FilterBrightness(screenshot image.Image, results []MatchResult, min int) []MatchResult {
	sg := grayClone(screenshot)

	var bright []MatchResult
	for _, r := range results {
		c := r.Center()
		if c.X < 0 || c.Y < 0 || c.X >= sg.Rect.Dx() || c.Y >= sg.Rect.Dy() {
			continue
		}
		if int(sg.GrayAt(c.X, c.Y).Y) > min {
			bright = append(bright, r)
		}
	}
	return bright
}

func centerDistance(a, b MatchResult) float64 {
	ca, cb := a.Center(), b.Center()
	dx, dy := float64(ca.X-cb.X), float64(ca.Y-cb.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
