package masking

import "fmt"

// ProcessorKind selects one of the four masking strategies.
type ProcessorKind int

const (
	ProcessorDefault ProcessorKind = iota
	ProcessorXML
	ProcessorJSON
	ProcessorFixedLength
)

func (k ProcessorKind) String() string {
	switch k {
	case ProcessorXML:
		return "xml"
	case ProcessorJSON:
		return "json"
	case ProcessorFixedLength:
		return "fixed_length"
	default:
		return "default"
	}
}

// MarshalText renders the kind by name in JSON output.
func (k ProcessorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// attributeKind is the attribute variant a processor consumes.
func (k ProcessorKind) attributeKind() AttributeKind {
	switch k {
	case ProcessorXML:
		return AttributeXPath
	case ProcessorJSON:
		return AttributeJSONPath
	case ProcessorFixedLength:
		return AttributeOffset
	default:
		return AttributeInvalid
	}
}

// ProcessorFor returns the processor family for a base payload type.
func ProcessorFor(t PayloadType) ProcessorKind {
	switch {
	case t == PayloadTypeXML:
		return ProcessorXML
	case t == PayloadTypeJSON:
		return ProcessorJSON
	case t.IsFixedLength():
		return ProcessorFixedLength
	default:
		return ProcessorDefault
	}
}

// request carries everything one processor invocation needs. It lives only
// for the duration of a single masking call.
type request struct {
	payload    string
	attributes []Attribute
	namespace  string
}

// outcome is what a processor hands back to the engine.
type outcome struct {
	masked  string
	applied int
}

// process dispatches to the processor for kind. Attributes of the wrong
// variant are dropped before the processor sees them.
func (e *Engine) process(kind ProcessorKind, req request) (outcome, error) {
	if kind != ProcessorDefault {
		req.attributes = filterAttributes(req.attributes, kind.attributeKind())
	}

	switch kind {
	case ProcessorXML:
		return e.maskXML(req)
	case ProcessorJSON:
		return e.maskJSON(req)
	case ProcessorFixedLength:
		return e.maskFixedLength(req), nil
	case ProcessorDefault:
		return maskDigitRuns(req.payload), nil
	default:
		return outcome{}, fmt.Errorf("unknown processor kind: %d", kind)
	}
}

func filterAttributes(attributes []Attribute, kind AttributeKind) []Attribute {
	filtered := make([]Attribute, 0, len(attributes))
	for _, attr := range attributes {
		if attr.Kind() == kind {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
