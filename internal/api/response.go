package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/snehendu098/rayfine/internal/classifier"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/pkg/logger"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把错误映射为 HTTP 状态码与统一的错误体。
func writeError(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.String("code", body.Code), slog.String("error", body.Message))
	}
	writeJSON(w, status, body)
}

func describeError(err error) (int, errorBody) {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound:
		return http.StatusNotFound, errorBody{Code: string(xerrors.CodeNotFound), Message: messageOf(err)}
	case xerrors.CodeConflict:
		return http.StatusConflict, errorBody{Code: string(xerrors.CodeConflict), Message: messageOf(err)}
	}

	classified := classifier.Classify(err)
	body := errorBody{
		Code:     string(classified.Code()),
		Message:  classified.Message(),
		Fields:   classified.Fields(),
		Metadata: withoutFields(classified.Metadata()),
	}
	return statusFor(classified.Code()), body
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case xerrors.CodeResolution:
		return http.StatusNotFound
	case xerrors.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case xerrors.CodeAdapter:
		return http.StatusBadGateway
	case xerrors.CodeConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error) string {
	if e, ok := xerrors.From(err); ok && e.Message() != "" {
		return e.Message()
	}
	return err.Error()
}

func withoutFields(meta map[string]string) map[string]string {
	for k := range meta {
		if strings.HasPrefix(k, "field.") {
			delete(meta, k)
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: message})
}

// decodeBody 解析 JSON 请求体。空请求体视为空对象。
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
