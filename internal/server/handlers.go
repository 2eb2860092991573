package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/raaihank/payload-masker/internal/audit"
	"github.com/raaihank/payload-masker/internal/cache"
	"github.com/raaihank/payload-masker/internal/logger"
	"github.com/raaihank/payload-masker/internal/masking"
	"github.com/raaihank/payload-masker/internal/websocket"
	"go.uber.org/zap"
)

const (
	auditTimeout = 2 * time.Second
	statsTimeout = 5 * time.Second
)

// maskOutcome is a masking result, either computed or served from cache
type maskOutcome struct {
	maskedPayload string
	payloadType   string
	label         string
	processor     string
	applied       int
	cacheHit      bool
}

// handleMask masks one payload
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	start := time.Now()
	requestID := getRequestID(r.Context())

	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}

	var req MaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordMaskingError("too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return
		}
		s.metrics.RecordMaskingError("bad_request")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := validateMaskRequest(&req); err != nil {
		s.metrics.RecordMaskingError("validation")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:         err.Error(),
			TransactionID: req.TransactionID,
		})
		return
	}

	log := s.logger.WithRequestID(requestID).WithTransactionID(req.TransactionID)

	out, err := s.mask(r.Context(), req.PayloadTxt)
	if err != nil {
		status, reason := errorStatus(err)
		s.metrics.RecordMaskingError(reason)
		log.Warn("Masking failed", zap.Int("status_code", status), zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: err.Error(), TransactionID: req.TransactionID})
		return
	}

	duration := time.Since(start)
	s.metrics.RecordMasking(out.payloadType, out.processor, len(req.PayloadTxt), duration)
	log.LogMasking(out.payloadType, out.label, out.processor, len(req.PayloadTxt), duration)

	s.recordAudit(r.Context(), log, req, out, duration)

	s.broadcast(websocket.EventTypeMasking, requestID, websocket.MaskingEvent{
		RequestID:         requestID,
		TransactionID:     req.TransactionID,
		PayloadType:       out.payloadType,
		ResolvedLabel:     out.label,
		Processor:         out.processor,
		AttributesApplied: out.applied,
		InputBytes:        len(req.PayloadTxt),
		OutputBytes:       len(out.maskedPayload),
		DurationMS:        float64(duration.Microseconds()) / 1000,
		CacheHit:          out.cacheHit,
	})

	writeJSON(w, http.StatusOK, MaskResponse{
		TransactionID: req.TransactionID,
		MaskedPayload: out.maskedPayload,
		PayloadType:   out.label,
	})
}

// mask consults the cache before running the current engine. Results are
// written back to the cache on a miss.
func (s *Server) mask(ctx context.Context, payload string) (maskOutcome, error) {
	engine := s.Engine()

	if s.cache != nil {
		entry, hit := s.cache.Get(ctx, engine.Fingerprint(), payload)
		s.metrics.RecordCacheLookup(hit)
		if hit {
			return maskOutcome{
				maskedPayload: entry.MaskedPayload,
				payloadType:   entry.PayloadType,
				label:         entry.ResolvedLabel,
				processor:     entry.Processor,
				applied:       entry.AttributesApplied,
				cacheHit:      true,
			}, nil
		}
	}

	result, err := engine.Mask(payload)
	if err != nil {
		return maskOutcome{}, err
	}

	out := maskOutcome{
		maskedPayload: result.MaskedPayload,
		payloadType:   result.PayloadType.String(),
		label:         result.ResolvedLabel,
		processor:     result.Processor.String(),
		applied:       result.AttributesApplied,
	}

	if s.cache != nil {
		entry := &cache.Entry{
			MaskedPayload:     out.maskedPayload,
			PayloadType:       out.payloadType,
			ResolvedLabel:     out.label,
			Processor:         out.processor,
			AttributesApplied: out.applied,
			CachedAt:          time.Now(),
		}
		if err := s.cache.Store(ctx, engine.Fingerprint(), payload, entry); err != nil {
			s.logger.Warn("Failed to cache masking result", zap.Error(err))
		}
	}

	return out, nil
}

// recordAudit writes the audit record. Failures never fail the request.
func (s *Server) recordAudit(ctx context.Context, log *logger.Logger, req MaskRequest, out maskOutcome, duration time.Duration) {
	if s.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	record := &audit.Record{
		TransactionID:     req.TransactionID,
		Source:            "api",
		PayloadType:       out.payloadType,
		ResolvedLabel:     out.label,
		Processor:         out.processor,
		PayloadSHA256:     audit.PayloadDigest(req.PayloadTxt),
		PayloadLength:     len(req.PayloadTxt),
		AttributesApplied: out.applied,
		DurationMicros:    duration.Microseconds(),
	}
	if err := s.audit.Insert(ctx, record); err != nil {
		s.metrics.AuditFailuresTotal.Inc()
		log.Error("Failed to write audit record", zap.Error(err))
	}
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, masking.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, masking.ErrParse):
		return http.StatusUnprocessableEntity, "parse"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	engine := s.Engine()

	info := map[string]interface{}{
		"name":               "payload-masker",
		"version":            s.version,
		"rule_types":         engine.RuleTypes(),
		"namespace_mappings": engine.NamespaceMappings(),
		"fingerprint":        engine.Fingerprint(),
		"total_requests":     s.requests.Load(),
		"cache_enabled":      s.cache != nil,
		"audit_enabled":      s.audit != nil,
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}

	writeJSON(w, http.StatusOK, info)
}

// handleAuditStats reports per-label audit counts
func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "audit trail is disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	stats, err := s.audit.GetStats(ctx)
	if err != nil {
		s.logger.Error("Failed to load audit stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load audit stats"})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
