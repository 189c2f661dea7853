package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noc-rpc/cluster"
	"noc-rpc/server"
	"noc-rpc/service/bas"
	"noc-rpc/service/fp"
	"noc-rpc/transport"
)

func newAPI(t *testing.T) (http.Handler, *fp.Mailbox) {
	svr := server.New(server.Config{Name: "io-north", Port: cluster.North}, transport.NewMesh(), nil)
	mb := fp.NewMailbox()
	require.NoError(t, svr.Register(bas.Service{}))
	require.NoError(t, svr.Register(mb))
	return New(svr, mb), mb
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestClasses(t *testing.T) {
	h, _ := newAPI(t)
	rec := do(h, http.MethodGet, "/classes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []Class
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "BAS", list[0].Name)
	assert.Equal(t, []string{"INVALID", "PING"}, list[0].Subtypes)
	assert.Equal(t, "FP", list[1].Name)
	assert.Equal(t, uint16(2), list[1].Version)
}

func TestStats(t *testing.T) {
	h, _ := newAPI(t)
	rec := do(h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"emptyPolls":0`)
	assert.Contains(t, rec.Body.String(), `"itemsPerPoll":0`)
}

func TestPostFP(t *testing.T) {
	h, mb := newAPI(t)

	rec := do(h, http.MethodPost, "/fp/3", "help")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, mb.Pending(3))

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/fp/64", "x").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/fp/abc", "x").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/fp/3", "").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		do(h, http.MethodPost, "/fp/3", strings.Repeat("x", fp.MaxCommand)).Code)
}
