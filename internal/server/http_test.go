package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
	"BookEngine/internal/directory"
	"BookEngine/internal/engine"
	"BookEngine/internal/observability"
	"BookEngine/internal/shard"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	e, err := engine.New(engine.Config{Shards: 2, QueueLen: 128}, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	hc := observability.NewHealthChecker()
	hc.SetSubsystem("feed", true)
	return New(":0", e, hc, zerolog.Nop()), e
}

func seedBook(t *testing.T, e *engine.Engine) {
	t.Helper()
	key := book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}
	_, err := e.AddVenue("XA", shard.ScopeOrderBook)
	require.NoError(t, err)
	e.AddInstrument(1, key, directory.RefData{Symbol: "INST1"})
	_, err = e.AddOrderBook(2, key, "XA", "MAIN", "", book.LotSizes{})
	require.NoError(t, err)

	require.NoError(t, e.AddOrder(key, "O1", 3, book.Buy, 1, 10000, 10, 0))
	require.NoError(t, e.AddOrder(key, "O2", 4, book.Sell, 2, 10100, 5, 0))
	require.NoError(t, e.AddTrade(key, "T1", 5, 10000, 3))
	e.Drain()
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestGetInstrument(t *testing.T) {
	s, e := newTestServer(t)
	seedBook(t, e)

	rec, body := get(t, s, "/v1/instruments/INST1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "INST1", body["symbol"])
	assert.Equal(t, "XA", body["venue"])

	rec, _ = get(t, s, "/v1/instruments/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetL1(t *testing.T) {
	s, e := newTestServer(t)
	seedBook(t, e)

	rec, body := get(t, s, "/v1/books/XA/MAIN/INST1/l1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10000), body["last"])
	assert.Equal(t, float64(3), body["volume"])
	assert.Equal(t, float64(10000), body["bid"])
	assert.Equal(t, float64(10100), body["ask"])
}

func TestGetL2_DepthAndOrdering(t *testing.T) {
	s, e := newTestServer(t)
	seedBook(t, e)

	key := book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}
	require.NoError(t, e.AddOrder(key, "O3", 6, book.Buy, 3, 9900, 4, 0))
	e.Drain()

	rec, body := get(t, s, "/v1/books/XA/MAIN/INST1/l2?depth=1")
	require.Equal(t, http.StatusOK, rec.Code)

	bids := body["bids"].([]any)
	require.Len(t, bids, 1)
	best := bids[0].(map[string]any)
	assert.Equal(t, float64(10000), best["price"])
	assert.Equal(t, float64(10), best["qty"])

	rec, _ = get(t, s, "/v1/books/XA/MAIN/INST1/l2?depth=junk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetL2_UnknownBook(t *testing.T) {
	s, e := newTestServer(t)
	seedBook(t, e)

	rec, _ := get(t, s, "/v1/books/XZ/MAIN/INST1/l2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadiness(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := get(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.hc.SetSubsystem("feed", false)
	rec, body := get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])
}
