package analyzer

// Test seams for white-box rule and metric coverage.
var (
	Classify = classify
	Compute  = compute
)
