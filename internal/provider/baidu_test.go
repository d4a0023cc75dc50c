package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/config"
)

type fakeBaidu struct {
	tokenCalls  atomic.Int32
	detectCalls atomic.Int32
	detect      func(w http.ResponseWriter, r *http.Request, call int32)
}

func (f *fakeBaidu) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "key", r.URL.Query().Get("client_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   2592000,
		})
	})
	mux.HandleFunc("/face/v3/detect", func(w http.ResponseWriter, r *http.Request) {
		n := f.detectCalls.Add(1)
		var req baiduDetectRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BASE64", req.ImageType)
		assert.Equal(t, baiduFaceFields, req.FaceField)
		f.detect(w, r, n)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newBaidu(t *testing.T, srv *httptest.Server, timeout time.Duration) *BaiduProvider {
	t.Helper()
	p, err := NewBaiduProvider(config.BaiduConfig{
		APIKey:    "key",
		SecretKey: "secret",
		TokenURL:  srv.URL + "/oauth/2.0/token",
		DetectURL: srv.URL + "/face/v3/detect",
	}, timeout)
	require.NoError(t, err)
	return p
}

const faceJSON = `{"face_token":"abc","beauty":73.5,"age":24,"gender":{"type":"female","probability":0.99},
"face_shape":{"type":"oval","probability":0.8},"expression":{"type":"smile","probability":0.9}}`

func okFace(w http.ResponseWriter, _ *http.Request, _ int32) {
	_, _ = w.Write([]byte(`{"error_code":0,"error_msg":"SUCCESS","result":{"face_num":1,"face_list":[` + faceJSON + `]}}`))
}

func TestBaiduAnalyze(t *testing.T) {
	fake := &fakeBaidu{detect: okFace}
	p := newBaidu(t, fake.server(t), time.Second)

	a, err := p.Analyze(context.Background(), []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, 73.5, a.Score)
	assert.JSONEq(t, faceJSON, string(a.FeatureBlob))

	_, err = p.Analyze(context.Background(), []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load(), "token is cached")
	assert.Equal(t, int32(2), fake.detectCalls.Load())
}

func TestBaiduTokenRefreshedOnExpiry(t *testing.T) {
	fake := &fakeBaidu{detect: okFace}
	p := newBaidu(t, fake.server(t), time.Second)

	now := time.Now()
	p.now = func() time.Time { return now }
	_, err := p.Analyze(context.Background(), []byte("x"))
	require.NoError(t, err)

	now = now.Add(31 * 24 * time.Hour)
	_, err = p.Analyze(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestBaiduRetriesOnRejectedToken(t *testing.T) {
	fake := &fakeBaidu{detect: func(w http.ResponseWriter, r *http.Request, call int32) {
		if call == 1 {
			_, _ = w.Write([]byte(`{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`))
			return
		}
		okFace(w, r, call)
	}}
	p := newBaidu(t, fake.server(t), time.Second)

	a, err := p.Analyze(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 73.5, a.Score)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestBaiduFailures(t *testing.T) {
	tests := []struct {
		name   string
		detect func(w http.ResponseWriter, r *http.Request, call int32)
		noFace bool
	}{
		{"api error", func(w http.ResponseWriter, _ *http.Request, _ int32) {
			_, _ = w.Write([]byte(`{"error_code":222201,"error_msg":"network not available"}`))
		}, false},
		{"no face code", func(w http.ResponseWriter, _ *http.Request, _ int32) {
			_, _ = w.Write([]byte(`{"error_code":222202,"error_msg":"pic not has face"}`))
		}, true},
		{"empty face list", func(w http.ResponseWriter, _ *http.Request, _ int32) {
			_, _ = w.Write([]byte(`{"error_code":0,"result":{"face_num":0,"face_list":[]}}`))
		}, true},
		{"http error", func(w http.ResponseWriter, _ *http.Request, _ int32) {
			w.WriteHeader(http.StatusBadGateway)
		}, false},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request, _ int32) {
			_, _ = w.Write([]byte(`<html>`))
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeBaidu{detect: tc.detect}
			p := newBaidu(t, fake.server(t), time.Second)

			_, err := p.Analyze(context.Background(), []byte("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrProvider)
			if tc.noFace {
				assert.ErrorIs(t, err, ErrNoFace)
			}
		})
	}
}

func TestBaiduTimeout(t *testing.T) {
	fake := &fakeBaidu{detect: func(w http.ResponseWriter, r *http.Request, _ int32) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}
	p := newBaidu(t, fake.server(t), 50*time.Millisecond)

	_, err := p.Analyze(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestNewBaiduProviderRequiresCredentials(t *testing.T) {
	_, err := NewBaiduProvider(config.BaiduConfig{}, time.Second)
	assert.Error(t, err)
}
