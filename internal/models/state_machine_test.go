package models

import "testing"

// TestCanTransition_ValidTransitions проверяет все валидные переходы между статусами
func TestCanTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
	}{
		{"UNPAID → RECEIVED (slate accepted)", OrderStatusUnpaid, OrderStatusReceived},
		{"UNPAID → REJECTED (slate rejected by wallet)", OrderStatusUnpaid, OrderStatusRejected},
		{"UNPAID → EXPIRED (ttl passed)", OrderStatusUnpaid, OrderStatusExpired},
		{"RECEIVED → CONFIRMED (enough confirmations)", OrderStatusReceived, OrderStatusConfirmed},
		{"RECEIVED → REJECTED (tx cancelled)", OrderStatusReceived, OrderStatusRejected},
		{"REJECTED → UNPAID (resubmission)", OrderStatusRejected, OrderStatusUnpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
			}
		})
	}
}

// TestCanTransition_InvalidTransitions проверяет запрещенные переходы
func TestCanTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
	}{
		{"UNPAID → CONFIRMED (skips RECEIVED)", OrderStatusUnpaid, OrderStatusConfirmed},
		{"RECEIVED → EXPIRED", OrderStatusReceived, OrderStatusExpired},
		{"RECEIVED → UNPAID", OrderStatusReceived, OrderStatusUnpaid},
		{"REJECTED → RECEIVED (must reopen first)", OrderStatusRejected, OrderStatusReceived},
		{"CONFIRMED → anything", OrderStatusConfirmed, OrderStatusRejected},
		{"EXPIRED → UNPAID", OrderStatusExpired, OrderStatusUnpaid},
		{"UNPAID → UNPAID", OrderStatusUnpaid, OrderStatusUnpaid},
		{"unknown status", OrderStatus("PAID"), OrderStatusReceived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
			}
		})
	}
}

func TestValidPath(t *testing.T) {
	tests := []struct {
		name  string
		from  OrderStatus
		steps []OrderStatus
		want  bool
	}{
		{"single step", OrderStatusUnpaid, []OrderStatus{OrderStatusReceived}, true},
		{"resubmission accepted", OrderStatusRejected, []OrderStatus{OrderStatusUnpaid, OrderStatusReceived}, true},
		{"resubmission rejected again", OrderStatusRejected, []OrderStatus{OrderStatusUnpaid, OrderStatusRejected}, true},
		{"skip in the middle", OrderStatusRejected, []OrderStatus{OrderStatusReceived}, false},
		{"empty path", OrderStatusUnpaid, nil, false},
		{"from terminal", OrderStatusExpired, []OrderStatus{OrderStatusUnpaid}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPath(tt.from, tt.steps); got != tt.want {
				t.Errorf("ValidPath(%s, %v) = %v, want %v", tt.from, tt.steps, got, tt.want)
			}
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	all := []OrderStatus{OrderStatusUnpaid, OrderStatusReceived, OrderStatusConfirmed, OrderStatusRejected, OrderStatusExpired}

	terminal := map[OrderStatus]bool{OrderStatusConfirmed: true, OrderStatusExpired: true}
	payable := map[OrderStatus]bool{OrderStatusUnpaid: true, OrderStatusRejected: true}
	callback := map[OrderStatus]bool{OrderStatusConfirmed: true, OrderStatusRejected: true, OrderStatusExpired: true}

	for _, s := range all {
		if IsTerminal(s) != terminal[s] {
			t.Errorf("IsTerminal(%s) = %v", s, IsTerminal(s))
		}
		if AcceptsSlate(s) != payable[s] {
			t.Errorf("AcceptsSlate(%s) = %v", s, AcceptsSlate(s))
		}
		if NeedsCallback(s) != callback[s] {
			t.Errorf("NeedsCallback(%s) = %v", s, NeedsCallback(s))
		}
		if StatusInfo(s) == "Неизвестный статус" {
			t.Errorf("StatusInfo(%s) has no description", s)
		}
		// Из терминальных статусов переходов нет
		if IsTerminal(s) && len(ValidTransitions[s]) != 0 {
			t.Errorf("terminal status %s has outgoing transitions", s)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	if s, err := ParseOrderStatus("RECEIVED"); err != nil || s != OrderStatusReceived {
		t.Errorf("ParseOrderStatus(RECEIVED) = %v, %v", s, err)
	}
	if _, err := ParseOrderStatus("Finalized"); err == nil {
		t.Error("expected error for unknown status")
	}
}
