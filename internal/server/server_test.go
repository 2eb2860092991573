package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/raaihank/payload-masker/internal/audit"
	"github.com/raaihank/payload-masker/internal/cache"
	"github.com/raaihank/payload-masker/internal/config"
	"github.com/raaihank/payload-masker/internal/logger"
	"github.com/raaihank/payload-masker/internal/masking"
	"github.com/raaihank/payload-masker/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pain013Namespace = "urn:iso:std:iso:20022:tech:xsd:pain.013.001.02"

func testConfig() *config.Config {
	cfg := config.GetDefaults()
	cfg.Masking = masking.Config{
		NamespaceMappings: []masking.NamespaceMapping{{Pattern: "pain.013"}},
		Rules: []masking.Rule{
			{Type: "JSON", Attributes: []masking.Attribute{masking.JSONPathAttr("$.acct")}},
			{Type: "MFFIXED", Attributes: []masking.Attribute{masking.OffsetAttr(4, 18)}},
			{Type: "xml_pain_013", Attributes: []masking.Attribute{masking.XPathAttr("//ns:DbtrAcct/ns:Id/ns:Othr/ns:Id")}},
		},
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	s, err := New(cfg, logger.Wrap(zap.NewNop()), opts...)
	require.NoError(t, err)
	return s
}

func postMask(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/mask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func maskBody(transactionID, payload string) string {
	data, _ := json.Marshal(MaskRequest{TransactionID: transactionID, PayloadTxt: payload})
	return string(data)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*cache.Entry)}
}

func (c *fakeCache) Get(ctx context.Context, fingerprint, payload string) (*cache.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fingerprint+"|"+payload]
	return entry, ok
}

func (c *fakeCache) Store(ctx context.Context, fingerprint, payload string, entry *cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint+"|"+payload] = entry
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (a *fakeAudit) Insert(ctx context.Context, record *audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, record)
	return nil
}

func (a *fakeAudit) GetStats(ctx context.Context) (*audit.Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &audit.Stats{
		TotalRecords: int64(len(a.records)),
		ByLabel:      []audit.LabelCount{{Label: "JSON", Count: int64(len(a.records))}},
	}, nil
}

func TestMaskPayloads(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name        string
		payload     string
		masked      string
		payloadType string
	}{
		{
			name:        "json",
			payload:     `{"acct":"1234567890123"}`,
			masked:      `{"acct":"*********0123"}`,
			payloadType: "JSON",
		},
		{
			name:        "fixed length marker",
			payload:     "ACAI12345678901234567",
			masked:      "ACAI**********1234567",
			payloadType: "MFFIXED",
		},
		{
			name:        "no rules falls back to digit runs",
			payload:     "*ADM ACCOUNT 12345678901 END",
			masked:      "*ADM ACCOUNT *******8901 END",
			payloadType: "MTSADM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMask(t, s.Handler(), maskBody("tx-1", tt.payload))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			var resp MaskResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, "tx-1", resp.TransactionID)
			assert.Equal(t, tt.masked, resp.MaskedPayload)
			assert.Equal(t, tt.payloadType, resp.PayloadType)
		})
	}
}

func TestMaskXMLSubtype(t *testing.T) {
	s := newTestServer(t, testConfig())

	payload := `<Document xmlns="` + pain013Namespace + `"><DbtrAcct><Id><Othr><Id>DE89370400440532013000</Id></Othr></Id></DbtrAcct></Document>`
	rec := postMask(t, s.Handler(), maskBody("tx-xml", payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MaskResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "xml_pain_013", resp.PayloadType)
	assert.Contains(t, resp.MaskedPayload, "<Id>******************3000</Id>")
	assert.NotContains(t, resp.MaskedPayload, "DE89370400440532013000")
}

func TestMaskErrors(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"malformed body", `{"transaction_id":`, http.StatusBadRequest, "invalid request body"},
		{"missing transaction id", `{"payload_txt":"abc"}`, http.StatusBadRequest, "transaction_id: field is required"},
		{"missing payload", `{"transaction_id":"tx-2"}`, http.StatusBadRequest, "payload_txt: field is required"},
		{"blank payload", maskBody("tx-3", "   "), http.StatusBadRequest, masking.ErrInvalidInput.Error()},
		{"unparseable json payload", maskBody("tx-4", `{"acct": }`), http.StatusUnprocessableEntity, "error masking JSON payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMask(t, s.Handler(), tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.Contains(t, resp.Error, tt.errMsg)
		})
	}
}

func TestMaskErrorEchoesTransactionID(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := postMask(t, s.Handler(), maskBody("tx-echo", `{"acct": }`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "tx-echo", resp.TransactionID)
}

func TestMaskBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 32
	s := newTestServer(t, cfg)

	rec := postMask(t, s.Handler(), maskBody("tx-big", strings.Repeat("1", 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaskMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mask", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/mask", strings.NewReader(maskBody("tx", `{"acct":"1"}`)))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMin = 1
	cfg.RateLimit.Burst = 1
	s := newTestServer(t, cfg)

	body := maskBody("tx", `{"acct":"1234567890123"}`)
	assert.Equal(t, http.StatusOK, postMask(t, s.Handler(), body).Code)

	rec := postMask(t, s.Handler(), body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "rate limit exceeded", resp.Error)

	// Health is not rate limited
	health := httptest.NewRecorder()
	s.Handler().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func rateLimitedConfig() *config.Config {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMin = 1
	cfg.RateLimit.Burst = 1
	return cfg
}

func postMaskFrom(t *testing.T, h http.Handler, remoteAddr, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/mask", strings.NewReader(maskBody("tx", `{"acct":"1234567890123"}`)))
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitSharedAcrossPeerPorts(t *testing.T) {
	s := newTestServer(t, rateLimitedConfig())

	assert.Equal(t, http.StatusOK, postMaskFrom(t, s.Handler(), "10.0.0.1:50001", ""))
	assert.Equal(t, http.StatusTooManyRequests, postMaskFrom(t, s.Handler(), "10.0.0.1:50002", ""))
	assert.Equal(t, 1, s.limiter.Clients())

	// A different peer has its own budget
	assert.Equal(t, http.StatusOK, postMaskFrom(t, s.Handler(), "10.0.0.2:50001", ""))
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, rateLimitedConfig())

	assert.Equal(t, http.StatusOK, postMaskFrom(t, s.Handler(), "10.0.0.1:50001", "1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, postMaskFrom(t, s.Handler(), "10.0.0.1:50002", "2.2.2.2"))
	assert.Equal(t, 1, s.limiter.Clients())
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	cfg := rateLimitedConfig()
	cfg.Server.TrustedProxies = []string{"10.9.0.0/16"}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, postMaskFrom(t, s.Handler(), "10.9.0.5:40000", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, postMaskFrom(t, s.Handler(), "10.9.0.5:40001", "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, postMaskFrom(t, s.Handler(), "10.9.0.6:40002", "203.0.113.1, 10.9.0.5"))
}

func TestNewRejectsInvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"not-a-cidr/8"}

	_, err := New(cfg, logger.Wrap(zap.NewNop()))
	assert.Error(t, err)
}

func TestCacheReadThrough(t *testing.T) {
	c := newFakeCache()
	s := newTestServer(t, testConfig(), WithCache(c))

	body := maskBody("tx", `{"acct":"1234567890123"}`)
	require.Equal(t, http.StatusOK, postMask(t, s.Handler(), body).Code)
	require.Len(t, c.entries, 1)

	for _, entry := range c.entries {
		assert.Equal(t, `{"acct":"*********0123"}`, entry.MaskedPayload)
		assert.Equal(t, "JSON", entry.ResolvedLabel)
		assert.Equal(t, "json", entry.Processor)
		assert.Equal(t, 1, entry.AttributesApplied)
		entry.MaskedPayload = "cached"
	}

	rec := postMask(t, s.Handler(), body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MaskResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "cached", resp.MaskedPayload)
	assert.Equal(t, "JSON", resp.PayloadType)
}

func TestCacheHitKeepsAttributesApplied(t *testing.T) {
	c := newFakeCache()
	a := &fakeAudit{}
	s := newTestServer(t, testConfig(), WithCache(c), WithAudit(a))

	body := maskBody("tx", `{"acct":"1234567890123"}`)
	require.Equal(t, http.StatusOK, postMask(t, s.Handler(), body).Code)
	require.Equal(t, http.StatusOK, postMask(t, s.Handler(), body).Code)

	require.Len(t, a.records, 2)
	assert.Equal(t, 1, a.records[0].AttributesApplied)
	assert.Equal(t, 1, a.records[1].AttributesApplied)
	assert.Equal(t, a.records[0].Processor, a.records[1].Processor)
}

func TestCacheKeyedByRuleSet(t *testing.T) {
	c := newFakeCache()
	s := newTestServer(t, testConfig(), WithCache(c))

	body := maskBody("tx", `{"acct":"1234567890123"}`)
	require.Equal(t, http.StatusOK, postMask(t, s.Handler(), body).Code)

	reloaded := testConfig().Masking
	reloaded.Rules[0].Attributes = []masking.Attribute{masking.JSONPathAttr("$.other")}
	require.NoError(t, s.Reload(reloaded))

	rec := postMask(t, s.Handler(), body)
	var resp MaskResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, `{"acct":"1234567890123"}`, resp.MaskedPayload)
	assert.Len(t, c.entries, 2)
}

func TestAuditRecorded(t *testing.T) {
	a := &fakeAudit{}
	s := newTestServer(t, testConfig(), WithAudit(a))

	payload := `{"acct":"1234567890123"}`
	require.Equal(t, http.StatusOK, postMask(t, s.Handler(), maskBody("tx-audit", payload)).Code)

	require.Len(t, a.records, 1)
	record := a.records[0]
	assert.Equal(t, "tx-audit", record.TransactionID)
	assert.Equal(t, "api", record.Source)
	assert.Equal(t, "JSON", record.PayloadType)
	assert.Equal(t, "JSON", record.ResolvedLabel)
	assert.Equal(t, "json", record.Processor)
	assert.Equal(t, audit.PayloadDigest(payload), record.PayloadSHA256)
	assert.Equal(t, len(payload), record.PayloadLength)
	assert.Equal(t, 1, record.AttributesApplied)
}

func TestAuditFailureDoesNotFailRequest(t *testing.T) {
	a := &fakeAudit{err: errors.New("connection refused")}
	s := newTestServer(t, testConfig(), WithAudit(a))

	rec := postMask(t, s.Handler(), maskBody("tx", `{"acct":"1234567890123"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditStats(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, testConfig())
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/stats", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		a := &fakeAudit{}
		s := newTestServer(t, testConfig(), WithAudit(a))
		require.Equal(t, http.StatusOK, postMask(t, s.Handler(), maskBody("tx", `{"acct":"1"}`)).Code)

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/stats", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var stats audit.Stats
		decodeBody(t, rec, &stats)
		assert.Equal(t, int64(1), stats.TotalRecords)
	})

	t.Run("store error", func(t *testing.T) {
		s := newTestServer(t, testConfig(), WithAudit(&fakeAudit{err: errors.New("down")}))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, testConfig(), WithVersion("1.2.3"))

	for _, path := range []string{"/health", "/api/health"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, "healthy", body["status"])
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	decodeBody(t, rec, &info)
	assert.Equal(t, "payload-masker", info["name"])
	assert.Equal(t, "1.2.3", info["version"])
	assert.ElementsMatch(t, []interface{}{"json", "mffixed", "xml_pain_013"}, info["rule_types"])
	assert.Equal(t, float64(1), info["namespace_mappings"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	require.Equal(t, http.StatusOK, postMask(t, s.Handler(), maskBody("tx", `{"acct":"1234567890123"}`)).Code)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `payload_masker_masking_total{payload_type="JSON",processor="json"} 1`)
	assert.Contains(t, body, `path="/api/mask"`)
}

func TestDashboardRequiresAuth(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "admin")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Payload Masker")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRejectsInvalidRules(t *testing.T) {
	cfg := testConfig()
	cfg.Masking.Rules = append(cfg.Masking.Rules, masking.Rule{Type: "XML", Attributes: []masking.Attribute{{}}})

	_, err := New(cfg, logger.Wrap(zap.NewNop()))
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	s := newTestServer(t, testConfig())
	before := s.Engine()

	bad := masking.Config{Rules: []masking.Rule{{Type: "JSON", Attributes: []masking.Attribute{{}}}}}
	require.Error(t, s.Reload(bad))
	assert.Same(t, before, s.Engine())

	body := maskBody("tx", `{"acct":"12345"}`)
	var resp MaskResponse
	decodeBody(t, postMask(t, s.Handler(), body), &resp)
	assert.Equal(t, `{"acct":"*2345"}`, resp.MaskedPayload)

	updated := testConfig().Masking
	updated.Rules = updated.Rules[1:]
	require.NoError(t, s.Reload(updated))
	assert.NotSame(t, before, s.Engine())
	assert.Equal(t, []string{"mffixed", "xml_pain_013"}, s.Engine().RuleTypes())

	decodeBody(t, postMask(t, s.Handler(), body), &resp)
	assert.Equal(t, `{"acct":"12345"}`, resp.MaskedPayload)
	assert.Equal(t, "JSON", resp.PayloadType)
}

func TestMaskingEventsBroadcast(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.startBackground()
	t.Cleanup(func() {
		s.cancel()
		s.wg.Wait()
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:admin")))
	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var connected websocket.Event
	require.NoError(t, conn.ReadJSON(&connected))
	require.Equal(t, websocket.EventTypeConnection, connected.Type)

	payload := `{"acct":"1234567890123"}`
	resp, err := http.Post(ts.URL+"/api/mask", "application/json", bytes.NewBufferString(maskBody("tx-ws", payload)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, conn.ReadJSON(&raw))
	assert.NotContains(t, string(raw), "1234567890123")

	var event struct {
		Type websocket.EventType    `json:"type"`
		Data websocket.MaskingEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, websocket.EventTypeMasking, event.Type)
	assert.Equal(t, "tx-ws", event.Data.TransactionID)
	assert.Equal(t, "JSON", event.Data.ResolvedLabel)
	assert.Equal(t, "json", event.Data.Processor)
	assert.Equal(t, len(payload), event.Data.InputBytes)
	assert.False(t, event.Data.CacheHit)
}

func TestRequestValidation(t *testing.T) {
	err := validateMaskRequest(&MaskRequest{TransactionID: strings.Repeat("x", 129), PayloadTxt: "abc"})
	require.Error(t, err)
	assert.Equal(t, "transaction_id: must not exceed 128 characters", err.Error())

	assert.NoError(t, validateMaskRequest(&MaskRequest{TransactionID: "tx", PayloadTxt: "abc"}))
}
