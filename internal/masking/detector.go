package masking

import (
	"regexp"
	"strings"
)

var (
	// xmlRootPattern captures the root element name and its raw attribute
	// text. The XML declaration and any leading comments, processing
	// instructions or DOCTYPE are optional.
	xmlRootPattern = regexp.MustCompile(`(?s)^(?:<\?xml[^>]*\?>\s*)?(?:(?:<!--.*?-->|<\?[^>]*\?>|<!DOCTYPE[^>]*>)\s*)*<([^\s>/!?]+)([^>]*)>`)

	// xmlnsPattern matches xmlns="..." and xmlns:prefix="..." declarations.
	xmlnsPattern = regexp.MustCompile(`(?:^|\s)xmlns(?::[^=\s]+)?\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// fixedMarkers maps record prefixes to their fixed-length tag, checked in order.
var fixedMarkers = []struct {
	prefix string
	typ    PayloadType
}{
	{"*FTR", PayloadTypeMTSFTR},
	{"*ADM", PayloadTypeMTSADM},
	{"ACAI", PayloadTypeMFFIXED},
}

// DetectType classifies a raw payload into its base format.
func DetectType(payload string) (PayloadType, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", ErrInvalidInput
	}

	if strings.HasPrefix(trimmed, "<") {
		return PayloadTypeXML, nil
	}

	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		return PayloadTypeJSON, nil
	}

	for _, marker := range fixedMarkers {
		if strings.HasPrefix(trimmed, marker.prefix) {
			return marker.typ, nil
		}
	}

	return PayloadTypeFixed, nil
}

// DetectXMLSubtype returns the subtype derived from the first configured
// mapping whose pattern occurs in a namespace declared on the root element.
// It returns "" when nothing matches or the root tag cannot be located.
func DetectXMLSubtype(payload string, mappings []NamespaceMapping) string {
	if len(mappings) == 0 {
		return ""
	}

	for _, uri := range rootNamespaces(payload) {
		for _, mapping := range mappings {
			if mapping.Pattern == "" {
				continue
			}
			if strings.Contains(uri, mapping.Pattern) {
				return SubtypeFromPattern(mapping.Pattern)
			}
		}
	}

	return ""
}

// DetectXMLSubtypeInfo runs subtype detection and, on a match, also
// extracts the namespace to bind for XPath evaluation.
func DetectXMLSubtypeInfo(payload string, mappings []NamespaceMapping) (XMLSubtypeInfo, bool) {
	subtype := DetectXMLSubtype(payload, mappings)
	if subtype == "" {
		return XMLSubtypeInfo{}, false
	}
	return XMLSubtypeInfo{
		Subtype:      subtype,
		NamespaceURI: ExtractNamespace(payload),
	}, true
}

// ExtractNamespace returns the first xmlns value declared on the root
// element, or "" if there is none.
func ExtractNamespace(payload string) string {
	namespaces := rootNamespaces(payload)
	if len(namespaces) == 0 {
		return ""
	}
	return namespaces[0]
}

// SubtypeFromPattern converts a namespace pattern such as "pain.013" into
// its subtype identifier "xml_pain_013".
func SubtypeFromPattern(pattern string) string {
	return "xml_" + strings.ToLower(strings.ReplaceAll(pattern, ".", "_"))
}

// rootNamespaces scans only the root start tag, without building a tree.
func rootNamespaces(payload string) []string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(payload), "\ufeff"))
	if !strings.HasPrefix(trimmed, "<") {
		return nil
	}

	match := xmlRootPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return nil
	}

	var namespaces []string
	for _, decl := range xmlnsPattern.FindAllStringSubmatch(match[2], -1) {
		uri := decl[1]
		if uri == "" {
			uri = decl[2]
		}
		if uri != "" {
			namespaces = append(namespaces, uri)
		}
	}
	return namespaces
}
