// Package handler はキーサーバーのHTTPハンドラを提供する。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/middleware"
	"exposure-tracer/internal/tracer"
	"exposure-tracer/internal/usecase"
	"exposure-tracer/pkg/httputil"
)

// DiagnosisHandler はケースIDと診断キーのHTTPハンドラを提供する。
type DiagnosisHandler struct {
	service *usecase.DiagnosisService
}

// NewDiagnosisHandler は新しいDiagnosisHandlerを生成する。
func NewDiagnosisHandler(service *usecase.DiagnosisService) *DiagnosisHandler {
	return &DiagnosisHandler{service: service}
}

// CaseIDResponse はケースIDのレスポンス形式。
type CaseIDResponse struct {
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// CaseIDListResponse はケースID一覧のレスポンス形式。
type CaseIDListResponse struct {
	CaseIDs []CaseIDResponse `json:"case_ids"`
}

// SubmitKeysResponse は診断キー登録のレスポンス形式。
type SubmitKeysResponse struct {
	Accepted int `json:"accepted"`
}

func (h *DiagnosisHandler) toCaseIDResponse(c *domain.CaseID) CaseIDResponse {
	return CaseIDResponse{
		Code:      c.Code,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: c.ExpiresAt(h.service.CaseIDTTL()).UTC().Format(time.RFC3339),
	}
}

func (h *DiagnosisHandler) toCaseIDList(caseIDs []*domain.CaseID) CaseIDListResponse {
	response := CaseIDListResponse{CaseIDs: make([]CaseIDResponse, len(caseIDs))}
	for i, c := range caseIDs {
		response.CaseIDs[i] = h.toCaseIDResponse(c)
	}
	return response
}

// writeCaseIDError はケースID関連のエラーをステータスコードに変換する。
func writeCaseIDError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCaseID):
		httputil.Error(w, http.StatusBadRequest, "INVALID_CASE_ID", "invalid case id format")
	case errors.Is(err, domain.ErrInvalidKeyCount):
		httputil.Error(w, http.StatusBadRequest, "INVALID_KEY_COUNT", "unexpected number of keys")
	case errors.Is(err, domain.ErrCaseIDNotFound):
		httputil.Error(w, http.StatusNotFound, "CASE_ID_NOT_FOUND", "case id not found")
	case errors.Is(err, domain.ErrCaseIDExpired):
		httputil.Error(w, http.StatusGone, "CASE_ID_EXPIRED", "case id has expired")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// CreateCaseIDs はケースIDを発行する。件数はクエリパラメータcount（省略時1）。
func (h *DiagnosisHandler) CreateCaseIDs(w http.ResponseWriter, r *http.Request) {
	n := 1
	if s := r.URL.Query().Get("count"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_COUNT", "count must be a number")
			return
		}
		n = v
	}

	caseIDs, err := h.service.GenerateCaseIDs(r.Context(), n)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_CASE_IDS", "", len(caseIDs), "FAILED")
		if errors.Is(err, domain.ErrInvalidCount) {
			httputil.Error(w, http.StatusBadRequest, "INVALID_COUNT", "count must be between 1 and "+strconv.Itoa(usecase.MaxCaseIDsPerRequest))
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_CASE_IDS", "", len(caseIDs), "SUCCESS")
	httputil.JSON(w, http.StatusCreated, h.toCaseIDList(caseIDs))
}

// ListCaseIDs は有効なケースIDの一覧を取得する。
func (h *DiagnosisHandler) ListCaseIDs(w http.ResponseWriter, r *http.Request) {
	caseIDs, err := h.service.ListCaseIDs(r.Context())
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LIST_CASE_IDS", "", 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "LIST_CASE_IDS", "", len(caseIDs), "SUCCESS")
	httputil.JSON(w, http.StatusOK, h.toCaseIDList(caseIDs))
}

// GetCaseID は指定されたケースIDを取得する。
func (h *DiagnosisHandler) GetCaseID(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	caseID, err := h.service.GetCaseID(r.Context(), code)
	if err != nil {
		writeCaseIDError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, h.toCaseIDResponse(caseID))
}

// SubmitKeys は診断キーを登録する。本文はケースID7バイトとTEKレコードの連結。
func (h *DiagnosisHandler) SubmitKeys(w http.ResponseWriter, r *http.Request) {
	want := domain.CaseIDLength + h.service.TEKsPerUpload()*tracer.TEKRecordSize
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(want)))
	if err != nil || len(body) != want {
		middleware.WriteAuditLog(r.Context(), "SUBMIT_KEYS", "", 0, "FAILED")
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY_SIZE", "body must be "+strconv.Itoa(want)+" bytes")
		return
	}

	code := string(body[:domain.CaseIDLength])
	keys := make([]domain.TEK, 0, h.service.TEKsPerUpload())
	for rec := body[domain.CaseIDLength:]; len(rec) > 0; rec = rec[tracer.TEKRecordSize:] {
		tek, err := tracer.ParseTEKRecord(rec[:tracer.TEKRecordSize])
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_BODY_SIZE", "malformed key record")
			return
		}
		keys = append(keys, tek)
	}

	accepted, err := h.service.SubmitKeys(r.Context(), code, keys)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "SUBMIT_KEYS", code, 0, "FAILED")
		writeCaseIDError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "SUBMIT_KEYS", code, accepted, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, SubmitKeysResponse{Accepted: accepted})
}

// ListDiagnosisKeys はエポックがoldest以上の診断キーをTEKレコードの連結で返す。
func (h *DiagnosisHandler) ListDiagnosisKeys(w http.ResponseWriter, r *http.Request) {
	var oldest uint32
	if s := r.URL.Query().Get("oldest"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_OLDEST", "oldest must be a unix epoch")
			return
		}
		oldest = uint32(v)
	}

	keys, err := h.service.ListDiagnosisKeys(r.Context(), oldest)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	body := make([]byte, 0, len(keys)*tracer.TEKRecordSize)
	for _, k := range keys {
		body = tracer.AppendTEKRecord(body, k)
	}
	httputil.Binary(w, http.StatusOK, body)
}
