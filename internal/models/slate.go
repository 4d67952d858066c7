package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidSlate - слейт не удалось разобрать
var ErrInvalidSlate = errors.New("invalid slate")

// ParticipantData - публичные данные участника транзакции
type ParticipantData struct {
	ID         uint64  `json:"id"`
	Message    *string `json:"message"`
	MessageSig *string `json:"message_sig"`
}

// Slate - платежный артефакт, который плательщик передает кошельку.
// Шлюз читает только идентификатор и сумму, остальное пересылается как есть (Raw).
type Slate struct {
	ID              string            `json:"id"`
	Amount          int64             `json:"amount"`
	Fee             int64             `json:"fee"`
	Height          int64             `json:"height"`
	LockHeight      int64             `json:"lock_height"`
	NumParticipants int               `json:"num_participants"`
	Version         int               `json:"version"`
	ParticipantData []ParticipantData `json:"participant_data"`

	Raw []byte `json:"-"`
}

// ParseSlate разбирает JSON слейта и сохраняет исходные байты для пересылки
func ParseSlate(data []byte) (*Slate, error) {
	var s Slate
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlate, err)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		return nil, fmt.Errorf("%w: id must be a uuid", ErrInvalidSlate)
	}
	if s.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSlate)
	}
	s.Raw = append([]byte(nil), data...)
	return &s, nil
}

// Messages возвращает сообщения участников (непустые)
func (s *Slate) Messages() []string {
	var msgs []string
	for _, p := range s.ParticipantData {
		if p.Message != nil && *p.Message != "" {
			msgs = append(msgs, *p.Message)
		}
	}
	return msgs
}
