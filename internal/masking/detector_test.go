package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectType(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    PayloadType
	}{
		{"xml declaration", `<?xml version="1.0"?><a/>`, PayloadTypeXML},
		{"xml element", "  <Document></Document>\n", PayloadTypeXML},
		{"json object", `{"acct":"1"}`, PayloadTypeJSON},
		{"json array", ` [1,2,3] `, PayloadTypeJSON},
		{"unbalanced brace", `{"acct":"1"`, PayloadTypeFixed},
		{"ftr marker", "*FTR0001  000123", PayloadTypeMTSFTR},
		{"adm marker", "*ADM0001  000123", PayloadTypeMTSADM},
		{"acai marker", "ACAI12345678901234567", PayloadTypeMFFIXED},
		{"generic fixed", "HDR 20240101 9876543210123", PayloadTypeFixed},
		{"marker after whitespace", "   ACAI0000", PayloadTypeMFFIXED},
		{"lowercase marker is generic", "acai0000", PayloadTypeFixed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectType(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectTypeRejectsBlank(t *testing.T) {
	for _, payload := range []string{"", "   ", "\n\t"} {
		_, err := DetectType(payload)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestDetectTypeAlwaysReturnsKnownTag(t *testing.T) {
	known := make(map[PayloadType]bool)
	for _, typ := range AllPayloadTypes {
		known[typ] = true
	}

	for _, payload := range []string{"x", "{", "]", "<", "*", "*FT", "ACA", "12345", "{]", "[}"} {
		got, err := DetectType(payload)
		require.NoError(t, err)
		assert.True(t, known[got], "unknown tag %q for %q", got, payload)
	}
}

func TestDetectXMLSubtype(t *testing.T) {
	mappings := []NamespaceMapping{
		{Pattern: "camt.054"},
		{Pattern: "pain.013"},
		{Pattern: "pain.001"},
	}

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "default namespace with declaration",
			payload: `<?xml version="1.0" encoding="UTF-8"?><Document xmlns="urn:iso:std:iso:20022:tech:xsd:pain.013.001.02"><A/></Document>`,
			want:    "xml_pain_013",
		},
		{
			name:    "no declaration",
			payload: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.054.001.08"></Document>`,
			want:    "xml_camt_054",
		},
		{
			name:    "prefixed namespace",
			payload: `<doc:Document xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:doc="urn:iso:std:iso:20022:tech:xsd:pain.001.001.09"></doc:Document>`,
			want:    "xml_pain_001",
		},
		{
			name:    "single quotes and comment before root",
			payload: "<?xml version='1.0'?>\n<!-- generated -->\n<Document xmlns='urn:pain.013.001.10'/>",
			want:    "xml_pain_013",
		},
		{
			name:    "no matching mapping",
			payload: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.008.001.08"></Document>`,
			want:    "",
		},
		{
			name:    "no namespace",
			payload: `<Document><Id>1</Id></Document>`,
			want:    "",
		},
		{
			name:    "namespace only on child",
			payload: `<Document><Inner xmlns="urn:pain.013"/></Document>`,
			want:    "",
		},
		{
			name:    "malformed",
			payload: `<Document xmlns="urn:pain.013"`,
			want:    "",
		},
		{
			name:    "not xml",
			payload: `{"xmlns":"pain.013"}`,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectXMLSubtype(tt.payload, mappings))
		})
	}
}

func TestDetectXMLSubtypeFirstMappingWins(t *testing.T) {
	payload := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pain.013.001.02"/>`

	got := DetectXMLSubtype(payload, []NamespaceMapping{{Pattern: "iso:20022"}, {Pattern: "pain.013"}})
	assert.Equal(t, "xml_iso:20022", got)

	assert.Empty(t, DetectXMLSubtype(payload, nil))
}

func TestExtractNamespace(t *testing.T) {
	payload := `<?xml version="1.0"?><doc:Document xmlns:doc="urn:first" xmlns="urn:second"><x/></doc:Document>`
	assert.Equal(t, "urn:first", ExtractNamespace(payload))

	assert.Empty(t, ExtractNamespace(`<Document><x/></Document>`))
	assert.Empty(t, ExtractNamespace(`not xml at all`))
	assert.Empty(t, ExtractNamespace(`<Document xmlns="urn:x"`))
}

func TestSubtypeFromPattern(t *testing.T) {
	assert.Equal(t, "xml_pain_013", SubtypeFromPattern("pain.013"))
	assert.Equal(t, "xml_camt_054_001", SubtypeFromPattern("CAMT.054.001"))
}
