package sourceref

// Label returns the human-readable confidence level of a score.
func Label(confidence float64) string {
	switch {
	case confidence >= 0.75:
		return "Very High"
	case confidence >= 0.55:
		return "High"
	case confidence >= 0.35:
		return "Medium"
	case confidence >= 0.20:
		return "Low"
	default:
		return "Very Low"
	}
}

// Quality returns the coarse quality indicator of a score: "high", "medium"
// or "low".
func Quality(confidence float64) string {
	switch {
	case confidence >= 0.7:
		return "high"
	case confidence >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
