package masking

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"go.uber.org/zap"
)

// namespaceAlias is the prefix configured XPath expressions use for the
// detected document namespace, e.g. //ns:DbtrAcct/ns:Id/ns:Othr/ns:Id.
const namespaceAlias = "ns"

// xmlTarget is one node selected by an XPath expression. Attribute
// matches are addressed through their owning element.
type xmlTarget struct {
	node   *xmlquery.Node
	isAttr bool
	name   string
	prefix string
	value  string
}

// maskXML parses the payload, masks the text of every node selected by the
// configured XPath expressions and serializes the tree back.
func (e *Engine) maskXML(req request) (outcome, error) {
	doc, err := xmlquery.Parse(strings.NewReader(req.payload))
	if err != nil {
		return outcome{}, &ParseError{Format: PayloadTypeXML, Err: err}
	}

	// The binding is built per call and never shared.
	var namespaces map[string]string
	if req.namespace != "" {
		namespaces = map[string]string{namespaceAlias: req.namespace}
	}

	applied := 0
	for _, attr := range req.attributes {
		expr, err := compileXPath(attr.XPath, namespaces)
		if err != nil {
			e.logger.Warn("Skipping invalid XPath expression",
				zap.String("xpath", attr.XPath),
				zap.Error(err),
			)
			continue
		}

		targets := selectTargets(doc, expr)
		if len(targets) == 0 {
			e.logger.Debug("XPath matched no nodes", zap.String("xpath", attr.XPath))
			continue
		}

		for _, target := range targets {
			maskXMLTarget(target)
		}
		applied++
	}

	return outcome{masked: doc.OutputXML(true), applied: applied}, nil
}

func compileXPath(expr string, namespaces map[string]string) (*xpath.Expr, error) {
	if namespaces == nil {
		return xpath.Compile(expr)
	}
	return xpath.CompileWithNS(expr, namespaces)
}

// selectTargets evaluates expr and snapshots the matches before any of them
// is mutated.
func selectTargets(doc *xmlquery.Node, expr *xpath.Expr) []xmlTarget {
	var targets []xmlTarget

	iter := expr.Select(xmlquery.CreateXPathNavigator(doc))
	for iter.MoveNext() {
		nav, ok := iter.Current().(*xmlquery.NodeNavigator)
		if !ok {
			continue
		}
		target := xmlTarget{node: nav.Current()}
		if nav.NodeType() == xpath.AttributeNode {
			target.isAttr = true
			target.name = nav.LocalName()
			target.prefix = nav.Prefix()
			target.value = nav.Value()
		}
		targets = append(targets, target)
	}

	return targets
}

// maskXMLTarget replaces the text content of a node with its masked form.
// Elements lose their children in favour of a single text node.
func maskXMLTarget(target xmlTarget) {
	n := target.node
	if n == nil {
		return
	}

	if target.isAttr {
		for i := range n.Attr {
			a := &n.Attr[i]
			if a.Name.Local == target.name && a.Name.Space == target.prefix && a.Value == target.value {
				a.Value = MaskValue(a.Value)
				return
			}
		}
		return
	}

	switch n.Type {
	case xmlquery.TextNode, xmlquery.CharDataNode, xmlquery.CommentNode:
		n.Data = MaskValue(n.Data)
	case xmlquery.ElementNode:
		text := &xmlquery.Node{
			Type:   xmlquery.TextNode,
			Data:   MaskValue(n.InnerText()),
			Parent: n,
		}
		n.FirstChild = text
		n.LastChild = text
	}
}
