package routes

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"dework/store"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 128
)

type idempotentFunc func(body []byte) (int, any, error)

// idempotent replays the stored response when the caller repeats a key with
// the same body. Only successful responses are remembered.
func (a *api) idempotent(w http.ResponseWriter, r *http.Request, fn idempotentFunc) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, r, badRequest("read body: %v", err))
		return
	}
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || a.store == nil {
		a.respond(w, r, fn, body)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		a.writeError(w, r, badRequest("idempotency key too long"))
		return
	}
	subject := caller(r).Hex()
	sum := sha256.Sum256(append([]byte(subject+"|"+r.Method+"|"+r.URL.Path+"|"), body...))
	hash := hex.EncodeToString(sum[:])
	scoped := subject + ":" + key

	a.idemMu.Lock()
	defer a.idemMu.Unlock()

	record, err := a.store.LookupIdempotency(r.Context(), scoped, hash)
	switch {
	case err == nil:
		w.Header().Set(headerReplayed, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(record.Status)
		_, _ = w.Write([]byte(record.Response))
		return
	case !errors.Is(err, store.ErrNotFound):
		a.writeError(w, r, err)
		return
	}
	status, payload, err := fn(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.store.SaveIdempotency(r.Context(), &store.IdempotencyKey{
		Key:         scoped,
		Subject:     subject,
		Method:      r.Method,
		Path:        r.URL.Path,
		RequestHash: hash,
		Status:      status,
		Response:    string(encoded),
	}); err != nil {
		a.logger.ErrorContext(r.Context(), "save idempotency key failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(encoded, '\n'))
}

func (a *api) respond(w http.ResponseWriter, r *http.Request, fn idempotentFunc, body []byte) {
	status, payload, err := fn(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func decodeRaw(body []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}
