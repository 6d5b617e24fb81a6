package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// Заголовки, в которые upstream-аутентификация кладёт участника.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// RequireActor читает участника из заголовков; без него запрос получает 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
			Role: domain.ActorRole(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
		}
		if actor.ID == "" || !actor.Role.Valid() {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFromContext возвращает участника, сохранённого RequireActor.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

// selfOrOperations разрешает доступ операторам и самому участнику с ролью role.
func selfOrOperations(actor domain.Actor, role domain.ActorRole, id string) bool {
	if actor.Role == domain.ActorOperations {
		return true
	}
	return actor.Role == role && actor.ID == id
}
