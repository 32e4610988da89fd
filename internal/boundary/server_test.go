package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyrotate/internal/secure"
	"github.com/systmms/keyrotate/pkg/rotation"
	"github.com/systmms/keyrotate/tests/fakes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingObserver struct {
	mu    sync.Mutex
	codes map[string][]int
}

func (o *recordingObserver) ObserveRequest(operation string, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.codes == nil {
		o.codes = make(map[string][]int)
	}
	o.codes[operation] = append(o.codes[operation], code)
}

func (o *recordingObserver) get(operation string) []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[operation]
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/credentials", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4711"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServerPublish(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	f.seed("AKIAOLD", 90, iamtypes.StatusTypeActive)
	observer := &recordingObserver{}
	srv := NewServer(ServerConfig{Listen: ":0"}, f.handler, nil, WithRequestObserver(observer))

	rec := post(t, srv.Handler(), gin.H{
		"operation": OpPublishCredential,
		"payload":   f.keysPayload(t),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	env := f.open(t, resp.Ciphertext)
	assert.Contains(t, env.Msg, "rotated: ")
	assert.Equal(t, []int{http.StatusOK}, observer.get(OpPublishCredential))
}

func TestServerDeleteCredential(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	f.seed("AKIANEW", 1, iamtypes.StatusTypeActive)
	f.seed("AKIAOLD", 80, iamtypes.StatusTypeInactive)
	srv := NewServer(ServerConfig{}, f.handler, nil)

	rec := post(t, srv.Handler(), gin.H{
		"operation":     OpDeleteCredential,
		"key_ref":       f.keyURL,
		"payload":       f.keysPayload(t),
		"credential_id": "AKIAOLD",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	env := f.open(t, resp.Ciphertext)
	assert.Equal(t, "credential AKIAOLD deleted", env.Msg)
	assert.Len(t, f.iam.AccessKeys("deploy"), 1)
}

func TestServerErrors(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	observer := &recordingObserver{}
	srv := NewServer(ServerConfig{}, f.handler, nil, WithRequestObserver(observer))

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "missing payload", body: gin.H{"operation": OpCheckCredential}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "payload not base64", body: gin.H{"operation": OpCheckCredential, "payload": "%%%"}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "unknown operation", body: gin.H{"operation": "drop_all", "payload": f.keysPayload(t)}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "delete without id", body: gin.H{"operation": OpDeleteCredential, "payload": f.keysPayload(t)}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "undecryptable payload", body: gin.H{"operation": OpCheckCredential, "payload": []byte("junk")}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, srv.Handler(), tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
	assert.Equal(t, []int{http.StatusBadRequest}, observer.get("drop_all"))
}

func TestServerAuthorizationError(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	f.sts.Err = fakes.APIError("InvalidClientTokenId", "The security token included in the request is invalid")
	srv := NewServer(ServerConfig{}, f.handler, nil)

	rec := post(t, srv.Handler(), gin.H{"operation": OpCheckCredential, "payload": f.keysPayload(t)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerRateLimit(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	f.seed("AKIAOLD", 10, iamtypes.StatusTypeActive)
	observer := &recordingObserver{}
	srv := NewServer(ServerConfig{RateLimit: 0.001, Burst: 1}, f.handler, nil, WithRequestObserver(observer))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	body := gin.H{"operation": OpCheckCredential, "payload": f.keysPayload(t)}
	rec := post(t, srv.Handler(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, srv.Handler(), body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, []int{http.StatusTooManyRequests}, observer.get("rate_limited"))
	assert.Equal(t, 1, srv.limiters.len())
}

func TestServerRejectsKeyOutsideAllowList(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	srv := NewServer(ServerConfig{}, f.handler, nil)

	keyRef := localKeyURL(t)
	rec := post(t, srv.Handler(), gin.H{
		"operation": OpCheckCredential,
		"key_ref":   keyRef,
		"payload":   f.keysPayload(t),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "key_not_allowed")
	assert.NotContains(t, rec.Body.String(), strings.TrimPrefix(keyRef, "base64key://"))
	assert.Empty(t, f.iam.Calls)
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(DefaultServerConfig(), nil, nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	assert.Equal(t, ":8080", srv.Addr())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLimiterStorePrune(t *testing.T) {
	t.Parallel()

	s := newLimiterStore(1, 0)
	s.get("192.0.2.1")
	s.get("192.0.2.2")
	require.Equal(t, 2, s.len())

	s.prune(time.Now().Add(-time.Hour))
	assert.Equal(t, 2, s.len())

	s.prune(time.Now().Add(time.Second))
	assert.Zero(t, s.len())
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{ErrBadPayload, http.StatusBadRequest},
		{fmt.Errorf("%w: base64key://REDACTED", secure.ErrKeyNotAllowed), http.StatusForbidden},
		{rotation.ErrConfiguration, http.StatusUnprocessableEntity},
		{rotation.ErrTransientProvider, http.StatusBadGateway},
		{rotation.ErrAuthorization, http.StatusUnauthorized},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, _ := statusFor(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
