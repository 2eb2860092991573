package masking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Engine detects a payload's format, resolves its rules and applies the
// matching processor. An Engine is immutable once built and safe for
// concurrent use; all per-request state stays on the stack of Mask.
type Engine struct {
	index       *RuleIndex
	mappings    []NamespaceMapping
	fingerprint string
	logger      *zap.Logger
}

// NewEngine builds the rule index from cfg.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	mappings := make([]NamespaceMapping, len(cfg.NamespaceMappings))
	copy(mappings, cfg.NamespaceMappings)

	engine := &Engine{
		index:       NewRuleIndex(cfg.Rules),
		mappings:    mappings,
		fingerprint: fingerprint(cfg),
		logger:      logger,
	}

	logger.Info("Masking engine initialized",
		zap.Int("rule_types", engine.index.Len()),
		zap.Int("namespace_mappings", len(mappings)),
		zap.String("fingerprint", engine.fingerprint[:12]),
	)

	return engine
}

// Mask detects the payload type and masks it.
func (e *Engine) Mask(payload string) (Result, error) {
	detected, err := DetectType(payload)
	if err != nil {
		return Result{}, err
	}
	return e.MaskPayload(payload, detected)
}

// MaskPayload masks a payload whose base type has already been detected.
func (e *Engine) MaskPayload(payload string, detected PayloadType) (Result, error) {
	if strings.TrimSpace(payload) == "" {
		return Result{}, ErrInvalidInput
	}

	result := Result{
		PayloadType:   detected,
		ResolvedLabel: detected.String(),
	}

	var subtype XMLSubtypeInfo
	hasSubtype := false
	if detected == PayloadTypeXML || strings.HasPrefix(strings.TrimSpace(payload), "<") {
		subtype, hasSubtype = DetectXMLSubtypeInfo(payload, e.mappings)
		if hasSubtype {
			result.Subtype = subtype.Subtype
			result.Namespace = subtype.NamespaceURI
			e.logger.Debug("Detected XML subtype",
				zap.String("subtype", subtype.Subtype),
				zap.String("namespace", subtype.NamespaceURI),
			)
		}
	}

	key := detected.Key()
	if hasSubtype {
		key = subtype.Subtype
	}

	attributes := e.index.Lookup(key)
	if len(attributes) == 0 {
		e.logger.Warn("No masking rules found for payload type, using default masking",
			zap.String("type", key),
		)
		out := maskDigitRuns(payload)
		result.MaskedPayload = out.masked
		result.Processor = ProcessorDefault
		result.AttributesApplied = out.applied
		return result, nil
	}

	kind := ProcessorFor(detected)
	if hasSubtype {
		kind = ProcessorXML
	}

	out, err := e.process(kind, request{
		payload:    payload,
		attributes: attributes,
		namespace:  subtype.NamespaceURI,
	})
	if err != nil {
		return Result{}, err
	}

	if hasSubtype {
		result.ResolvedLabel = subtype.Subtype
	}
	result.MaskedPayload = out.masked
	result.Processor = kind
	result.AttributesApplied = out.applied

	e.logger.Debug("Payload masked",
		zap.String("type", detected.String()),
		zap.String("label", result.ResolvedLabel),
		zap.String("processor", kind.String()),
		zap.Int("attributes", len(attributes)),
		zap.Int("applied", out.applied),
	)

	return result, nil
}

// Fingerprint identifies the rule set the engine was built from.
func (e *Engine) Fingerprint() string {
	return e.fingerprint
}

// RuleTypes returns the type keys that have masking rules.
func (e *Engine) RuleTypes() []string {
	return e.index.Keys()
}

// NamespaceMappings returns the number of configured namespace mappings.
func (e *Engine) NamespaceMappings() int {
	return len(e.mappings)
}

func fingerprint(cfg Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
