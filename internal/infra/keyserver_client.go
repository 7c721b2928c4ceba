package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/tracer"
	"exposure-tracer/pkg/httputil"
)

// errorCodes はキーサーバーのエラーコードとドメインエラーの対応。
var errorCodes = map[string]error{
	"INVALID_CASE_ID":   domain.ErrInvalidCaseID,
	"INVALID_KEY_COUNT": domain.ErrInvalidKeyCount,
	"INVALID_COUNT":     domain.ErrInvalidCount,
	"CASE_ID_NOT_FOUND": domain.ErrCaseIDNotFound,
	"CASE_ID_EXPIRED":   domain.ErrCaseIDExpired,
}

// KeyServerClient はキーサーバーのHTTPクライアント。usecase.KeyFeedを実装する。
type KeyServerClient struct {
	baseURL string
	client  *http.Client
}

// NewKeyServerClient は新しいKeyServerClientを生成する。リクエストはotelhttpで計装される。
func NewKeyServerClient(baseURL string) (*KeyServerClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("KEYSERVER_URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing KEYSERVER_URL: %w", err)
	}
	return &KeyServerClient{
		baseURL: baseURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}, nil
}

func (c *KeyServerClient) do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// decodeError はエラーレスポンスをドメインエラーに変換する。
func decodeError(resp *http.Response) error {
	var body httputil.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		if sentinel, ok := errorCodes[body.Code]; ok {
			return sentinel
		}
		if body.Message != "" {
			return fmt.Errorf("keyserver returned %d: %s", resp.StatusCode, body.Message)
		}
	}
	return fmt.Errorf("keyserver returned %d", resp.StatusCode)
}

// FetchKeys はエポックがoldest以上の診断キーを取得し、1件ずつfnに渡す。
// レスポンスはストリームのまま読み進めるため、全件をメモリに載せない。
func (c *KeyServerClient) FetchKeys(ctx context.Context, oldest uint32, fn func(domain.TEK) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/diagnosis-keys?oldest="+strconv.FormatUint(uint64(oldest), 10), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	records := tracer.NewTEKRecordReader(resp.Body)
	for {
		tek, err := records.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading diagnosis keys: %w", err)
		}
		if err := fn(tek); err != nil {
			return err
		}
	}
}

// UploadKeys はケースIDとTEKレコードを連結してアップロードする。
func (c *KeyServerClient) UploadKeys(ctx context.Context, caseID string, keys []domain.TEK) error {
	body := make([]byte, 0, len(caseID)+len(keys)*tracer.TEKRecordSize)
	body = append(body, caseID...)
	for _, k := range keys {
		body = tracer.AppendTEKRecord(body, k)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/diagnosis-keys", "application/octet-stream", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	return nil
}

// caseIDPayload はケースIDのレスポンス形式。
type caseIDPayload struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

type caseIDListPayload struct {
	CaseIDs []caseIDPayload `json:"case_ids"`
}

func (p caseIDListPayload) toDomain() []*domain.CaseID {
	out := make([]*domain.CaseID, len(p.CaseIDs))
	for i, c := range p.CaseIDs {
		out[i] = &domain.CaseID{Code: c.Code, CreatedAt: c.CreatedAt}
	}
	return out
}

// CreateCaseIDs はn件のケースIDを発行する。
func (c *KeyServerClient) CreateCaseIDs(ctx context.Context, n int) ([]*domain.CaseID, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/case-ids?count="+strconv.Itoa(n), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}
	var payload caseIDListPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding case ids: %w", err)
	}
	return payload.toDomain(), nil
}

// ListCaseIDs は有効なケースIDの一覧を取得する。
func (c *KeyServerClient) ListCaseIDs(ctx context.Context) ([]*domain.CaseID, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/case-ids", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var payload caseIDListPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding case ids: %w", err)
	}
	return payload.toDomain(), nil
}
