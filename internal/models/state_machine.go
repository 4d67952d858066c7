package models

// ValidTransitions определяет допустимые переходы между статусами заказа
var ValidTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusUnpaid:   {OrderStatusReceived, OrderStatusRejected, OrderStatusExpired}, // Rejected если кошелек отверг слейт
	OrderStatusReceived: {OrderStatusConfirmed, OrderStatusRejected},
	OrderStatusRejected: {OrderStatusUnpaid}, // повторная отправка слейта
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to OrderStatus) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ValidPath проверяет что каждая пара соседних статусов - допустимый переход
func ValidPath(from OrderStatus, steps []OrderStatus) bool {
	if len(steps) == 0 {
		return false
	}
	prev := from
	for _, s := range steps {
		if !CanTransition(prev, s) {
			return false
		}
		prev = s
	}
	return true
}

// IsTerminal - заказ больше не меняет статус
func IsTerminal(s OrderStatus) bool {
	return s == OrderStatusConfirmed || s == OrderStatusExpired
}

// AcceptsSlate - в этом статусе можно отправить слейт
func AcceptsSlate(s OrderStatus) bool {
	return s == OrderStatusUnpaid || s == OrderStatusRejected
}

// NeedsCallback - о переходе в этот статус нужно уведомить мерчанта
func NeedsCallback(s OrderStatus) bool {
	return s == OrderStatusConfirmed || s == OrderStatusRejected || s == OrderStatusExpired
}

// StatusInfo возвращает описание статуса для API
func StatusInfo(s OrderStatus) string {
	switch s {
	case OrderStatusUnpaid:
		return "Ожидание оплаты"
	case OrderStatusReceived:
		return "Платеж получен, ожидание подтверждений"
	case OrderStatusConfirmed:
		return "Платеж подтвержден"
	case OrderStatusRejected:
		return "Платеж отклонен кошельком"
	case OrderStatusExpired:
		return "Срок оплаты истек"
	default:
		return "Неизвестный статус"
	}
}
