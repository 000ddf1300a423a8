package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	idemapp "github.com/Overland-East-Bay/catalog-intake-api/internal/app/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
	DefaultMaxIdempotentBody = 10 << 20
	defaultMaxCapturedBody   = 16 << 20

	CodeInvalidIdempotencyKey  = "INVALID_IDEMPOTENCY_KEY"
	CodeIdempotencyConflict    = "IDEMPOTENCY_KEY_CONFLICT"
	CodeIdempotencyProcessing  = "IDEMPOTENCY_KEY_PROCESSING"
	CodeIdempotencyUnavailable = "IDEMPOTENCY_UNAVAILABLE"
)

// IdempotencyOptions bounds what the middleware buffers.
type IdempotencyOptions struct {
	// MaxBodyBytes is the largest request body that is fingerprinted. Larger
	// bodies pass through unprotected so the route can reject them itself.
	MaxBodyBytes int64
	// MaxCapturedBytes is the largest response body that is cached for replay.
	MaxCapturedBytes int
}

// NewIdempotencyMiddleware gates POST requests carrying an Idempotency-Key
// header through gate. Requests without the header pass straight through.
func NewIdempotencyMiddleware(gate *idemapp.Gate, log logrus.FieldLogger, opts IdempotencyOptions) func(http.Handler) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxIdempotentBody
	}
	if opts.MaxCapturedBytes <= 0 {
		opts.MaxCapturedBytes = defaultMaxCapturedBody
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			values, present := r.Header[IdempotencyKeyHeader]
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			token := ""
			if len(values) > 0 {
				token = values[0]
			}
			details := map[string]any{"idempotency_key": token}

			if err := idemapp.ValidateToken(token); err != nil {
				log.WithFields(logrus.Fields{"idempotency_key": token, "path": r.URL.Path}).Warn("invalid idempotency key format")
				writeError(w, r, http.StatusBadRequest, CodeInvalidIdempotencyKey, invalidKeyMessage, details)
				return
			}

			body, complete, err := readBody(r, opts.MaxBodyBytes)
			if err != nil {
				log.WithError(err).WithField("path", r.URL.Path).Warn("failed to read request body")
				writeError(w, r, http.StatusBadRequest, CodeInvalidRequestBody, "Failed to read request body", nil)
				return
			}
			if !complete {
				log.WithField("idempotency_key", token).Warn("request body too large to fingerprint; skipping idempotency")
				next.ServeHTTP(w, r)
				return
			}
			fp := Fingerprint(body)

			res, err := gate.Admit(r.Context(), idempotency.Token(token), fp, func(ctx context.Context) (idempotency.Response, bool) {
				cw := newCaptureWriter(w, opts.MaxCapturedBytes)
				next.ServeHTTP(cw, r.WithContext(ctx))
				return cw.Response()
			})
			if err != nil {
				if errors.Is(err, idemapp.ErrUnavailable) {
					writeError(w, r, http.StatusServiceUnavailable, CodeIdempotencyUnavailable, "Idempotency store is unavailable; retry later", details)
					return
				}
				writeError(w, r, http.StatusBadRequest, CodeInvalidIdempotencyKey, invalidKeyMessage, details)
				return
			}

			switch res.Outcome {
			case idemapp.OutcomeReplayed:
				replay(w, res.Response)
			case idemapp.OutcomeConflict:
				writeError(w, r, http.StatusConflict, CodeIdempotencyConflict, "Idempotency key already used with different request body", details)
			case idemapp.OutcomeProcessing:
				writeError(w, r, http.StatusConflict, CodeIdempotencyProcessing, "Request with this idempotency key is already being processed", details)
			}
		})
	}
}

var invalidKeyMessage = fmt.Sprintf(
	"Invalid idempotency key format. Key must be 1-%d characters long and contain only letters, numbers, hyphens, and underscores",
	idemapp.MaxTokenLength,
)

// Fingerprint is the hex SHA-256 of the raw request body.
func Fingerprint(body []byte) idempotency.Fingerprint {
	sum := sha256.Sum256(body)
	return idempotency.Fingerprint(hex.EncodeToString(sum[:]))
}

// readBody buffers up to limit bytes and restores r.Body so downstream handlers
// see the full stream. complete is false when the body exceeds limit.
func readBody(r *http.Request, limit int64) (body []byte, complete bool, err error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true, nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > limit {
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
		return nil, false, nil
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(buf))
	r.ContentLength = int64(len(buf))
	return buf, true, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func replay(w http.ResponseWriter, resp idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(IdempotentReplayedHeader, "true")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// captureWriter forwards the response to the client and keeps a copy for
// replay. A copy that overflowed, was hijacked, or is empty is not usable.
type captureWriter struct {
	http.ResponseWriter

	limit    int
	status   int
	buf      bytes.Buffer
	overflow bool
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{ResponseWriter: w, limit: limit}
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if !c.overflow {
		if c.buf.Len()+len(p) > c.limit {
			c.overflow = true
			c.buf.Reset()
		} else {
			c.buf.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

// Unwrap hands the underlying writer to http.ResponseController. Output sent
// through it bypasses the copy, so the capture is discarded.
func (c *captureWriter) Unwrap() http.ResponseWriter {
	c.overflow = true
	return c.ResponseWriter
}

func (c *captureWriter) Response() (idempotency.Response, bool) {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	resp := idempotency.Response{
		StatusCode:  status,
		ContentType: c.Header().Get("Content-Type"),
	}
	if c.overflow || c.buf.Len() == 0 {
		return resp, false
	}
	resp.Body = append([]byte(nil), c.buf.Bytes()...)
	return resp, true
}
