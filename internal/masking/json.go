package masking

import (
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

var errInvalidJSON = errors.New("invalid JSON document")

// maskJSON masks every leaf selected by the configured JSONPath
// expressions. Only the targeted values are rewritten; the rest of the
// document keeps its original bytes and key order.
func (e *Engine) maskJSON(req request) (outcome, error) {
	if !gjson.Valid(req.payload) {
		return outcome{}, &ParseError{Format: PayloadTypeJSON, Err: errInvalidJSON}
	}

	doc := req.payload
	applied := 0
	for _, attr := range req.attributes {
		segments, err := parseJSONPath(attr.JSONPath)
		if err != nil {
			e.logger.Warn("Skipping invalid JSONPath expression",
				zap.String("jsonpath", attr.JSONPath),
				zap.Error(err),
			)
			continue
		}

		paths := resolveJSONPath(doc, segments)
		if len(paths) == 0 {
			e.logger.Debug("JSONPath matched no values", zap.String("jsonpath", attr.JSONPath))
			continue
		}

		matched := false
		for _, path := range paths {
			value := gjson.Get(doc, path)
			if !value.Exists() || value.Type == gjson.Null {
				continue
			}

			text := value.Raw
			if value.Type == gjson.String {
				text = value.Str
			}

			updated, err := sjson.Set(doc, path, MaskValue(text))
			if err != nil {
				e.logger.Warn("Failed to write masked JSON value",
					zap.String("jsonpath", attr.JSONPath),
					zap.Error(err),
				)
				continue
			}
			doc = updated
			matched = true
		}
		if matched {
			applied++
		}
	}

	return outcome{masked: doc, applied: applied}, nil
}
