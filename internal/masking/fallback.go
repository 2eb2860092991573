package masking

import "regexp"

// accountNumberPattern matches runs of 10 to 14 consecutive digits.
var accountNumberPattern = regexp.MustCompile(`[0-9]{10,14}`)

// maskDigitRuns is the fallback used when no rules exist for a payload's
// type. Each digit run is replaced left to right without overlap. It is not
// idempotent: in a 23 digit run the 4 kept digits of the first match join
// the 9 unmatched digits after it, and a second pass masks that 13 digit run.
func maskDigitRuns(payload string) outcome {
	applied := 0
	masked := accountNumberPattern.ReplaceAllStringFunc(payload, func(run string) string {
		applied++
		return MaskValue(run)
	})
	return outcome{masked: masked, applied: applied}
}
