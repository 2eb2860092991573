package masking

import "strings"

// PayloadType is the base format a payload was classified as.
type PayloadType string

const (
	PayloadTypeXML  PayloadType = "XML"
	PayloadTypeJSON PayloadType = "JSON"
	// PayloadTypeMTSFTR is a fixed-length record starting with *FTR
	PayloadTypeMTSFTR PayloadType = "MTSFTR"
	// PayloadTypeMTSADM is a fixed-length record starting with *ADM
	PayloadTypeMTSADM PayloadType = "MTSADM"
	// PayloadTypeMFFIXED is a fixed-length record starting with ACAI
	PayloadTypeMFFIXED PayloadType = "MFFIXED"
	// PayloadTypeFixed is any other fixed-length record
	PayloadTypeFixed PayloadType = "FIXED"
)

// AllPayloadTypes lists every base type in detection order.
var AllPayloadTypes = []PayloadType{
	PayloadTypeXML,
	PayloadTypeJSON,
	PayloadTypeMTSFTR,
	PayloadTypeMTSADM,
	PayloadTypeMFFIXED,
	PayloadTypeFixed,
}

func (t PayloadType) String() string {
	return string(t)
}

// Key returns the normalized rule index key for the type.
func (t PayloadType) Key() string {
	return strings.ToLower(string(t))
}

// IsFixedLength reports whether the type belongs to the fixed-length family.
func (t PayloadType) IsFixedLength() bool {
	switch t {
	case PayloadTypeMTSFTR, PayloadTypeMTSADM, PayloadTypeMFFIXED, PayloadTypeFixed:
		return true
	}
	return false
}

// NamespaceMapping maps a namespace URI substring to an XML subtype.
type NamespaceMapping struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
}

// Attribute is a single masking instruction. Exactly one of XPath,
// JSONPath or the Start/End pair must be set.
type Attribute struct {
	XPath    string `yaml:"xpath" mapstructure:"xpath" json:"xpath,omitempty"`
	JSONPath string `yaml:"jsonpath" mapstructure:"jsonpath" json:"jsonpath,omitempty"`
	Start    *int   `yaml:"start" mapstructure:"start" json:"start,omitempty"`
	End      *int   `yaml:"end" mapstructure:"end" json:"end,omitempty"`
}

// AttributeKind identifies which variant an Attribute carries.
type AttributeKind int

const (
	AttributeInvalid AttributeKind = iota
	AttributeXPath
	AttributeJSONPath
	AttributeOffset
)

func (k AttributeKind) String() string {
	switch k {
	case AttributeXPath:
		return "xpath"
	case AttributeJSONPath:
		return "jsonpath"
	case AttributeOffset:
		return "offset"
	default:
		return "invalid"
	}
}

// Kind returns the variant of the attribute, or AttributeInvalid when it
// carries none or more than one.
func (a Attribute) Kind() AttributeKind {
	kind := AttributeInvalid
	count := 0
	if a.XPath != "" {
		kind = AttributeXPath
		count++
	}
	if a.JSONPath != "" {
		kind = AttributeJSONPath
		count++
	}
	if a.Start != nil || a.End != nil {
		kind = AttributeOffset
		count++
		if a.Start == nil || a.End == nil {
			return AttributeInvalid
		}
	}
	if count != 1 {
		return AttributeInvalid
	}
	return kind
}

// XPathAttr builds an XPath attribute.
func XPathAttr(expr string) Attribute {
	return Attribute{XPath: expr}
}

// JSONPathAttr builds a JSONPath attribute.
func JSONPathAttr(expr string) Attribute {
	return Attribute{JSONPath: expr}
}

// OffsetAttr builds a half-open [start, end) offset attribute.
func OffsetAttr(start, end int) Attribute {
	return Attribute{Start: &start, End: &end}
}

// Rule groups the attributes configured for one type key.
type Rule struct {
	Service    string      `yaml:"service" mapstructure:"service" json:"service,omitempty"`
	Type       string      `yaml:"type" mapstructure:"type" json:"type"`
	Attributes []Attribute `yaml:"attributes" mapstructure:"attributes" json:"attributes"`
}

// Config contains the masking rule set
type Config struct {
	NamespaceMappings []NamespaceMapping `yaml:"namespace_mappings" mapstructure:"namespace_mappings" json:"namespace_mappings"`
	Rules             []Rule             `yaml:"rules" mapstructure:"rules" json:"rules"`
}

// XMLSubtypeInfo is the per-request result of namespace sniffing.
type XMLSubtypeInfo struct {
	Subtype      string
	NamespaceURI string
}

// Result is the outcome of masking a single payload.
type Result struct {
	MaskedPayload     string        `json:"masked_payload"`
	PayloadType       PayloadType   `json:"payload_type"`
	ResolvedLabel     string        `json:"resolved_label"`
	Subtype           string        `json:"subtype,omitempty"`
	Namespace         string        `json:"namespace,omitempty"`
	Processor         ProcessorKind `json:"processor"`
	AttributesApplied int           `json:"attributes_applied"`
}
