package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL - сколько хранится ответ на мутацию заказа, возврата или флага.
const DefaultIdempotencyTTL = 24 * time.Hour

// anonymousOwner - владелец ключей запросов без участника (служебные вызовы, тесты).
const anonymousOwner = "anonymous"

// IdempotencyStatus - стадия обработки мутации, защищённой ключом.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: мутация выполняется, повтор получает 409.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: ответ сохранён и отдаётся повторам без повторной отмены или возврата.
	IdempotencyStatusDone IdempotencyStatus = "done"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone
}

// IdempotencyScope связывает клиентский Idempotency-Key с участником, который его прислал.
// Одинаковые ключи клиента и гаража защищают разные мутации.
type IdempotencyScope struct {
	Owner string
	Key   string
}

// ScopeForActor строит область ключа для участника; без идентификатора ключ анонимный.
func ScopeForActor(actor Actor, key string) IdempotencyScope {
	owner := anonymousOwner
	if id := strings.TrimSpace(actor.ID); id != "" {
		owner = string(actor.Role) + ":" + id
	}
	return IdempotencyScope{Owner: owner, Key: strings.TrimSpace(key)}
}

// StorageKey - ключ записи в хранилище. Владелец идёт первым, чтобы ключи участника лежали рядом.
func (s IdempotencyScope) StorageKey() string {
	owner := s.Owner
	if owner == "" {
		owner = anonymousOwner
	}
	return owner + "/" + s.Key
}

// IdempotencyRecord - сохранённое состояние мутации по ключу области.
type IdempotencyRecord struct {
	// Key - IdempotencyScope.StorageKey().
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Replayable сообщает, что сохранённый ответ можно отдать повтору.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone
}
