package overlap

import "github.com/zombor/receipt-capture/internal/similarity"

// DefaultWindow is the number of lines compared on each side of a seam.
const DefaultWindow = 6

// Result describes how a new capture lines up with the lines merged so far.
type Result struct {
	Confidence       float64 `json:"confidence"`
	OverlapLineCount int     `json:"overlap_line_count"`
	QualityLevel     Quality `json:"quality_level"`
	// Blank is set when the capture produced no text at all.
	Blank bool `json:"blank,omitempty"`
}

// Detector finds the seam between two consecutive captures.
type Detector struct {
	window int
	policy QualityPolicy
}

// NewDetector creates a Detector comparing window lines on each side.
func NewDetector(window int, policy QualityPolicy) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(policy.Levels) == 0 {
		policy = DefaultQualityPolicy()
	}
	return &Detector{
		window: window,
		policy: policy.sorted(),
	}
}

// Window returns the number of lines read from each side.
func (d *Detector) Window() int {
	return d.window
}

// Detect aligns the end of merged with the start of head. Only the last
// Window lines of merged are read, so the cost does not grow with the
// session. The largest overlap length whose score exceeds minConfidence
// wins; when none does the result reports no overlap.
func (d *Detector) Detect(merged, head []string, minConfidence float64) Result {
	if len(head) == 0 {
		return Result{
			QualityLevel: d.policy.Classify(0),
			Blank:        true,
		}
	}

	tail := merged
	if len(tail) > d.window {
		tail = tail[len(tail)-d.window:]
	}
	if len(head) > d.window {
		head = head[:d.window]
	}

	longest := min(len(tail), len(head))
	for n := longest; n >= 1; n-- {
		score := similarity.ScoreWindow(tail[len(tail)-n:], head[:n])
		if score > minConfidence {
			return Result{
				Confidence:       score,
				OverlapLineCount: n,
				QualityLevel:     d.policy.Classify(score),
			}
		}
	}

	return Result{QualityLevel: d.policy.Classify(0)}
}
