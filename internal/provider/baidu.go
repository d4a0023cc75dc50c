package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/config"
	"github.com/your-org/facepk/internal/models"
)

const baiduFaceFields = "age,beauty,expression,face_shape,gender"

// tokens are refreshed this long before Baidu says they expire
const tokenSkew = time.Minute

// BaiduProvider scores through the Baidu face detect v3 API. The access
// token is fetched with client credentials and cached until it expires.
type BaiduProvider struct {
	client    *http.Client
	apiKey    string
	secretKey string
	tokenURL  string
	detectURL string

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewBaiduProvider(cfg config.BaiduConfig, timeout time.Duration) (*BaiduProvider, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("baidu api_key and secret_key are required")
	}
	return &BaiduProvider{
		client:    &http.Client{Timeout: timeout},
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		tokenURL:  cfg.TokenURL,
		detectURL: cfg.DetectURL,
		now:       time.Now,
	}, nil
}

func (p *BaiduProvider) Kind() models.ProviderKind {
	return models.ProviderBaidu
}

type baiduToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

type baiduDetectRequest struct {
	Image     string `json:"image"`
	ImageType string `json:"image_type"`
	FaceField string `json:"face_field"`
}

type baiduDetectResponse struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Result    *struct {
		FaceNum  int               `json:"face_num"`
		FaceList []json.RawMessage `json:"face_list"`
	} `json:"result"`
}

// Baidu error codes meaning the token is no longer valid.
var baiduTokenErrors = map[int]bool{110: true, 111: true}

func (p *BaiduProvider) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	a, err := p.detect(ctx, image)
	var tokenErr *tokenRejected
	if errors.As(err, &tokenErr) {
		slog.Info("baidu token rejected, refreshing", "code", tokenErr.code)
		p.invalidate()
		a, err = p.detect(ctx, image)
	}
	return a, err
}

type tokenRejected struct {
	code int
	msg  string
}

func (e *tokenRejected) Error() string {
	return fmt.Sprintf("baidu token rejected (%d): %s", e.code, e.msg)
}

func (e *tokenRejected) Unwrap() error { return apperr.ErrProvider }

func (p *BaiduProvider) detect(ctx context.Context, image []byte) (*Analysis, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(baiduDetectRequest{
		Image:     base64.StdEncoding.EncodeToString(image),
		ImageType: "BASE64",
		FaceField: baiduFaceFields,
	})
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}

	endpoint := p.detectURL + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp baiduDetectResponse
	if err := p.do(req, &resp); err != nil {
		return nil, err
	}

	if resp.ErrorCode != 0 {
		if baiduTokenErrors[resp.ErrorCode] {
			return nil, &tokenRejected{code: resp.ErrorCode, msg: resp.ErrorMsg}
		}
		if resp.ErrorCode == 222202 {
			// "pic not has face"
			return nil, ErrNoFace
		}
		return nil, apperr.Provider("baidu error %d: %s", resp.ErrorCode, resp.ErrorMsg)
	}
	if resp.Result == nil || len(resp.Result.FaceList) == 0 {
		return nil, ErrNoFace
	}

	face := resp.Result.FaceList[0]
	var fields struct {
		Beauty float64 `json:"beauty"`
	}
	if err := json.Unmarshal(face, &fields); err != nil {
		return nil, apperr.Provider("decode face: %v", err)
	}
	return &Analysis{Score: fields.Beauty, FeatureBlob: face}, nil
}

func (p *BaiduProvider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expires) {
		return p.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", p.apiKey)
	q.Set("client_secret", p.secretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	var tok baiduToken
	if err := p.do(req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", apperr.Provider("baidu token: %s %s", tok.Error, tok.Description)
	}

	p.token = tok.AccessToken
	p.expires = p.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
	return p.token, nil
}

func (p *BaiduProvider) invalidate() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

func (p *BaiduProvider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: baidu request: %w", apperr.ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Provider("read baidu response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.Provider("baidu returned %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Provider("decode baidu response: %v", err)
	}
	return nil
}
