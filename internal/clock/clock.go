// Package clock - источник времени для сервисов и фоновых задач.
// Код шлюза не вызывает time.Now() напрямую, чтобы сроки заказов и
// расписание повторов проверялись в тестах детерминированно.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem - системные часы (UTC)
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type fixedClock struct {
	now time.Time
}

// NewFixed - часы, всегда возвращающие один момент
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

// Manual - часы, которые тест двигает вручную
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual создает ручные часы с начальным моментом
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now возвращает текущий момент
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance сдвигает часы вперед
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set устанавливает момент
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
