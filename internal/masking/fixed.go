package masking

import "go.uber.org/zap"

// maskFixedLength masks each [start, end) character range of the payload.
// Ranges are measured against the original payload. MaskValue never
// changes length, so every range stays valid regardless of order or
// overlap.
func (e *Engine) maskFixedLength(req request) outcome {
	original := []rune(req.payload)
	result := make([]rune, len(original))
	copy(result, original)

	applied := 0
	for _, attr := range req.attributes {
		start, end := *attr.Start, *attr.End
		if start < 0 || end > len(original) || start >= end {
			e.logger.Debug("Skipping out of range offset",
				zap.Int("start", start),
				zap.Int("end", end),
				zap.Int("payload_length", len(original)),
			)
			continue
		}

		masked := []rune(MaskValue(string(original[start:end])))
		copy(result[start:end], masked)
		applied++
	}

	return outcome{masked: string(result), applied: applied}
}
