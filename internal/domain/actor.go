package domain

// ActorRole - роль инициатора запроса, уже определённая upstream-аутентификацией.
type ActorRole string

const (
	ActorCustomer   ActorRole = "customer"
	ActorGarage     ActorRole = "garage"
	ActorOperations ActorRole = "operations"
)

// Valid проверяет, что роль из поддерживаемого набора.
func (r ActorRole) Valid() bool {
	switch r {
	case ActorCustomer, ActorGarage, ActorOperations:
		return true
	default:
		return false
	}
}

// Actor - участник, от имени которого выполняется операция.
type Actor struct {
	ID   string
	Role ActorRole
}

// CanAccessOrder проверяет, что участник связан с заказом.
// Операционная команда видит все заказы.
func (a Actor) CanAccessOrder(o Order) bool {
	switch a.Role {
	case ActorOperations:
		return a.ID != ""
	case ActorCustomer:
		return a.ID != "" && a.ID == o.CustomerID
	case ActorGarage:
		return a.ID != "" && a.ID == o.GarageID
	default:
		return false
	}
}

// CancelledStatus возвращает терминальный статус отмены для роли инициатора.
func (r ActorRole) CancelledStatus() (OrderStatus, bool) {
	switch r {
	case ActorCustomer:
		return OrderStatusCancelledByCustomer, true
	case ActorGarage:
		return OrderStatusCancelledByGarage, true
	case ActorOperations:
		return OrderStatusCancelledByOperations, true
	default:
		return "", false
	}
}
