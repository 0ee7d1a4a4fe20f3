package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store-backoffice/internal/domain/order"
)

// retryAfterSeconds is advertised on contention failures.
const retryAfterSeconds = "1"

// problem is the error body returned by every endpoint.
type problem struct {
	Reason  string
	Message string
	Field   string
}

func (p problem) Encode(e *jx.Encoder, code int) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("reason")
	e.Str(p.Reason)
	e.FieldStart("message")
	e.Str(p.Message)
	if p.Field != "" {
		e.FieldStart("field")
		e.Str(p.Field)
	}
	e.ObjEnd()
}

func writeProblem(w http.ResponseWriter, code int, p problem) {
	var e jx.Encoder
	p.Encode(&e, code)
	writeJSON(w, code, e.Bytes())
}

var kindStatus = map[order.Kind]int{
	order.KindInvalid:    http.StatusBadRequest,
	order.KindNotFound:   http.StatusNotFound,
	order.KindRejected:   http.StatusUnprocessableEntity,
	order.KindConflict:   http.StatusConflict,
	order.KindContention: http.StatusConflict,
	order.KindIntegrity:  http.StatusConflict,
	order.KindInternal:   http.StatusInternalServerError,
}

// writeError maps a service or decoding failure to a response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *requestError
	if errors.As(err, &invalid) {
		writeProblem(w, http.StatusBadRequest, problem{Reason: "invalid_input", Message: invalid.Message, Field: invalid.Field})
		return
	}

	var e *order.Error
	if !errors.As(err, &e) {
		zctx.From(r.Context()).Error("Unclassified handler error", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, problem{Reason: "internal", Message: "Internal error."})
		return
	}

	code, ok := kindStatus[e.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	if e.Retryable() {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeProblem(w, code, problem{Reason: e.Reason, Message: e.Message, Field: e.Field})
}

// requestError reports a body or path parameter that could not be decoded.
type requestError struct {
	Field   string
	Message string
	Err     error
}

func (e *requestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *requestError) Unwrap() error { return e.Err }

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
