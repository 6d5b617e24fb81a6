package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrReturnRequestNotFound возвращается, если заявка на возврат не найдена.
	ErrReturnRequestNotFound = errors.New("return request not found")
	// ErrRefundNotFound возвращается, если запись о возврате средств не найдена.
	ErrRefundNotFound = errors.New("refund not found")
	// ErrAccessDenied - инициатор не является участником заказа и не относится к операционной команде.
	ErrAccessDenied = errors.New("access denied")
	// ErrReturnStateConflict - переход заявки на возврат недопустим из текущего статуса.
	ErrReturnStateConflict = errors.New("return request state conflict")
	// ErrReturnAlreadyExists - для заказа уже существует заявка на возврат.
	ErrReturnAlreadyExists = errors.New("return request already exists for order")
	// ErrUnknownOrderStatus - статус заказа отсутствует в таблице стадий.
	ErrUnknownOrderStatus = errors.New("unknown order status")
	// ErrInvalidArgument - некорректные входные данные запроса.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOrderIDRequired - не передан идентификатор заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrPaymentDeclined - возврат отклонён провайдером (бизнес-ошибка, повтор не поможет).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary - временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrPaymentReferenceRequired - у заказа нет ссылки на исходный платёж.
	ErrPaymentReferenceRequired = errors.New("payment reference is required")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired - пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired - пустой отпечаток запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists - ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ повторно использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound - ключ не найден или уже истёк.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsNotFound сообщает, относится ли ошибка к отсутствующим сущностям.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReturnRequestNotFound) ||
		errors.Is(err, ErrRefundNotFound)
}

// IsConflict сообщает, что операция конфликтует с текущим состоянием.
func IsConflict(err error) bool {
	return errors.Is(err, ErrReturnStateConflict) || errors.Is(err, ErrReturnAlreadyExists)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
