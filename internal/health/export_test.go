package health

// Test seam for white-box score band coverage.
var StatusFor = statusFor
