package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const (
	// HeaderKey - заголовок с ключом идемпотентности.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay выставляется на ответах, отданных из хранилища.
	HeaderReplay = "X-Idempotent-Replay"

	// DefaultTTL - сколько хранится завершённый ответ.
	DefaultTTL = domain.DefaultIdempotencyTTL
)

// ActorFunc определяет участника запроса; его ключи не пересекаются с ключами других участников.
type ActorFunc func(r *http.Request) domain.Actor

type middlewareConfig struct {
	ttl     time.Duration
	methods map[string]struct{}
	actor   ActorFunc
	now     func() time.Time
	logger  *log.Entry
}

// MiddlewareOption настраивает Middleware.
type MiddlewareOption func(*middlewareConfig)

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods ограничивает набор защищаемых методов.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				cfg.methods[method] = struct{}{}
			}
		}
	}
}

// WithActor задаёт, откуда брать участника. По умолчанию он читается из заголовков X-Actor-*.
func WithActor(fn ActorFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if fn != nil {
			cfg.actor = fn
		}
	}
}

func WithMiddlewareLogger(logger *log.Entry) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

func WithMiddlewareClock(now func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Middleware требует Idempotency-Key на мутирующих запросах и повторяет сохранённый ответ
// для повторов. Ответы 5xx не сохраняются: ключ освобождается, и клиент может повторить запрос.
func Middleware(repo domain.IdempotencyRepository, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if repo == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		ttl: DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		actor: headerActor,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "idempotency-middleware")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			scope := domain.ScopeForActor(cfg.actor(r), r.Header.Get(HeaderKey))
			if scope.Key == "" {
				respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing Idempotency-Key header")
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				respondError(w, r, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}

			scoped := scope.StorageKey()
			fingerprint := requestFingerprint(r, body, scope.Owner)
			ctx := r.Context()

			_, err = repo.CreateProcessing(ctx, scoped, fingerprint, cfg.now().Add(cfg.ttl))
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrIdempotencyHashMismatch):
				respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
				record, getErr := repo.Get(ctx, scoped)
				if getErr != nil {
					cfg.logger.WithError(getErr).Warn("failed to load idempotency record")
					respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
					return
				}
				if !record.Replayable() {
					respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
					return
				}
				writeStoredResponse(w, record)
				return
			default:
				cfg.logger.WithError(err).Warn("idempotency store error")
				respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				if err := repo.Release(ctx, scoped); err != nil {
					cfg.logger.WithError(err).Warn("failed to release idempotency key after server error")
				}
			} else if err := repo.MarkDone(ctx, scoped, recorder.Body(), recorder.Status()); err != nil {
				cfg.logger.WithError(err).Warn("failed to persist idempotent response")
				if releaseErr := repo.Release(ctx, scoped); releaseErr != nil {
					cfg.logger.WithError(releaseErr).Warn("failed to release idempotency key after save failure")
				}
				respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}

			if err := recorder.Commit(); err != nil {
				cfg.logger.WithError(err).Debug("failed to flush response")
			}
		})
	}
}

func headerActor(r *http.Request) domain.Actor {
	return domain.Actor{
		ID:   strings.TrimSpace(r.Header.Get("X-Actor-ID")),
		Role: domain.ActorRole(strings.ToLower(strings.TrimSpace(r.Header.Get("X-Actor-Role")))),
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, owner string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("|")
	b.WriteString(r.URL.Path)
	b.WriteString("|")
	b.WriteString(r.URL.RawQuery)
	b.WriteString("|")
	b.WriteString(owner)
	b.WriteString("|")
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeStoredResponse(w http.ResponseWriter, record domain.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderReplay, "true")

	status := record.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      code,
		"message":    message,
		"request_id": middleware.GetReqID(r.Context()),
	})
}

// responseRecorder буферизует ответ обработчика до сохранения в хранилище.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status != 0 {
		return
	}
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	return r.body.Bytes()
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key, values := range r.header {
		dst[key] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
