package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func maskXMLWith(t *testing.T, payload, namespace string, paths ...string) (outcome, error) {
	t.Helper()
	engine := NewEngine(Config{}, zap.NewNop())
	attrs := make([]Attribute, 0, len(paths))
	for _, p := range paths {
		attrs = append(attrs, XPathAttr(p))
	}
	return engine.maskXML(request{payload: payload, attributes: attrs, namespace: namespace})
}

func TestMaskXMLWithNamespaceAlias(t *testing.T) {
	out, err := maskXMLWith(t, pain013Document("1234567890123"), pain013Namespace,
		"//ns:DbtrAcct/ns:Id/ns:Othr/ns:Id")
	require.NoError(t, err)

	assert.Equal(t, 1, out.applied)
	assert.Contains(t, out.masked, "<Id>*********0123</Id>")
	assert.Contains(t, out.masked, "<Nm>ACME Corp</Nm>")
	assert.Contains(t, out.masked, pain013Namespace)
}

func TestMaskXMLAllMatchedNodes(t *testing.T) {
	payload := `<Batch><Txn><Acct>11112222333344</Acct></Txn><Txn><Acct>55556666777788</Acct></Txn></Batch>`

	out, err := maskXMLWith(t, payload, "", "//Txn/Acct")
	require.NoError(t, err)

	assert.Equal(t, `<Batch><Txn><Acct>**********3344</Acct></Txn><Txn><Acct>**********7788</Acct></Txn></Batch>`, out.masked)
}

func TestMaskXMLAttributeAndTextNodes(t *testing.T) {
	payload := `<Root><Acct number="9876543210">Savings 0011223344</Acct></Root>`

	out, err := maskXMLWith(t, payload, "", "//Acct/@number", "//Acct/text()")
	require.NoError(t, err)

	assert.Equal(t, 2, out.applied)
	assert.Contains(t, out.masked, `number="******3210"`)
	assert.Contains(t, out.masked, `>**************3344</Acct>`)
}

func TestMaskXMLUnmatchedPathIsSkipped(t *testing.T) {
	payload := `<Root><Name>Alice</Name><Card>4111111111111111</Card></Root>`

	out, err := maskXMLWith(t, payload, "", "//Missing/Field", "//Card")
	require.NoError(t, err)

	assert.Equal(t, 1, out.applied)
	assert.Equal(t, `<Root><Name>Alice</Name><Card>************1111</Card></Root>`, out.masked)
}

func TestMaskXMLInvalidExpressionIsSkipped(t *testing.T) {
	payload := `<Root><Card>4111111111111111</Card></Root>`

	out, err := maskXMLWith(t, payload, "", "//Card[", "//Card")
	require.NoError(t, err)

	assert.Equal(t, 1, out.applied)
	assert.Contains(t, out.masked, "************1111")
}

func TestMaskXMLElementWithChildrenBecomesText(t *testing.T) {
	payload := `<Root><Addr><Line>12 Main</Line><Zip>90210</Zip></Addr></Root>`

	out, err := maskXMLWith(t, payload, "", "//Addr")
	require.NoError(t, err)

	assert.Equal(t, `<Root><Addr>********0210</Addr></Root>`, out.masked)
}

func TestMaskXMLMalformedIsParseError(t *testing.T) {
	_, err := maskXMLWith(t, `<Root><Open></Root>`, "", "//Open")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.True(t, strings.Contains(err.Error(), "XML"))
}
