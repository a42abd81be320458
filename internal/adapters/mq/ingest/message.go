package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/blitzrec/internal/domain/model"
)

var validate = validator.New()

// Message is one crawler report of new battles on a vehicle.
type Message struct {
	EventID        string `json:"event_id" validate:"omitempty,max=128"`
	Realm          string `json:"realm" validate:"required,max=16"`
	AccountID      uint32 `json:"account_id" validate:"required"`
	TankID         uint32 `json:"tank_id" validate:"required"`
	LastBattleTime int64  `json:"last_battle_time" validate:"required,gt=0"`
	NBattles       uint32 `json:"n_battles" validate:"required"`
	NWins          uint32 `json:"n_wins" validate:"ltefield=NBattles"`
}

// Decode parses and validates a feed payload in one step.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := validate.Struct(m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return m, nil
}

// TrainItem converts the message to a train item.
func (m Message) TrainItem() model.TrainItem {
	return model.TrainItem{
		Realm:          m.Realm,
		AccountID:      model.AccountID(m.AccountID),
		TankID:         model.TankID(m.TankID),
		LastBattleTime: time.Unix(m.LastBattleTime, 0).UTC(),
		NBattles:       m.NBattles,
		NWins:          m.NWins,
	}
}

// Observation converts the message to a factor model observation.
func (m Message) Observation() model.Observation {
	return model.Observation{
		EventID:   m.EventID,
		Realm:     m.Realm,
		AccountID: model.AccountID(m.AccountID),
		TankID:    model.TankID(m.TankID),
		NBattles:  m.NBattles,
		NWins:     m.NWins,
		TS:        time.Unix(m.LastBattleTime, 0).UTC(),
	}
}
