package billing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"ticketledger/core/state"
	"ticketledger/native/fees"
)

// RegisterEvent registers event with the engine's default rules.
func (e *Engine) RegisterEvent(ctx context.Context, caller, event [20]byte) error {
	return e.RegisterEventWithRules(ctx, caller, event, e.defaultRules)
}

// RegisterEventWithRules registers event with an explicit rule set. When a
// ticket directory is configured the event must already be known to it.
func (e *Engine) RegisterEventWithRules(ctx context.Context, caller, event [20]byte, rules fees.Rules) error {
	if err := e.requireOwner(caller, "register_event"); err != nil {
		return err
	}
	if err := rules.Validate(); err != nil {
		return err
	}
	if e.directory != nil {
		known, err := e.directory.IsEventRegistered(ctx, event)
		if err != nil {
			return fmt.Errorf("billing: query ticket manager: %w", err)
		}
		if !known {
			return ErrUnknownEvent
		}
	}
	return e.execute("register_event", []lockKey{registryLock(), eventLock(event)}, func(tx *txn) error {
		_, err := loadEvent(tx.Tx, event)
		switch {
		case err == nil:
			return ErrAlreadyRegistered
		case !errors.Is(err, ErrUnknownEvent):
			return err
		}
		record := &EventRecord{
			ID:           event,
			Rules:        rules,
			Policy:       e.defaultPolicy,
			RegisteredAt: e.now(),
		}
		if err := storeEvent(tx.Tx, record); err != nil {
			return err
		}
		if err := tx.KVAppend(eventsIndexKey, event[:]); err != nil {
			return err
		}
		tx.emit(newRegisteredEvent(record))
		return nil
	})
}

// UpdateRules replaces the rules of a registered event.
func (e *Engine) UpdateRules(caller, event [20]byte, rules fees.Rules) error {
	if err := e.requireOwner(caller, "update_rules"); err != nil {
		return err
	}
	if err := rules.Validate(); err != nil {
		return err
	}
	return e.execute("update_rules", []lockKey{eventLock(event)}, func(tx *txn) error {
		record, err := loadEvent(tx.Tx, event)
		if err != nil {
			return err
		}
		record.Rules = rules
		if err := storeEvent(tx.Tx, record); err != nil {
			return err
		}
		tx.emit(newRulesUpdatedEvent(record))
		return nil
	})
}

// SetEventPolicy switches the payout policy of a registered event. Escrow
// already held keeps its history; only later sales follow the new policy.
func (e *Engine) SetEventPolicy(caller, event [20]byte, policy Policy) error {
	if err := e.requireOwner(caller, "set_policy"); err != nil {
		return err
	}
	if policy != PolicyImmediate && policy != PolicyEscrowed {
		return fmt.Errorf("billing: unknown policy %d", policy)
	}
	return e.execute("set_policy", []lockKey{eventLock(event)}, func(tx *txn) error {
		record, err := loadEvent(tx.Tx, event)
		if err != nil {
			return err
		}
		record.Policy = policy
		if err := storeEvent(tx.Tx, record); err != nil {
			return err
		}
		tx.emit(newPolicyUpdatedEvent(record))
		return nil
	})
}

// Event returns the stored record of a registered event.
func (e *Engine) Event(event [20]byte) (*EventRecord, error) {
	var out *EventRecord
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = loadEvent(tx, event)
		return err
	})
	return out, err
}

// Rules returns the fee rules of a registered event.
func (e *Engine) Rules(event [20]byte) (fees.Rules, error) {
	record, err := e.Event(event)
	if err != nil {
		return fees.Rules{}, err
	}
	return record.Rules, nil
}

// IsEventRegistered reports whether event was registered with the engine.
func (e *Engine) IsEventRegistered(event [20]byte) bool {
	_, err := e.Event(event)
	return err == nil
}

func (e *Engine) eventIndex() ([][]byte, error) {
	var list [][]byte
	err := e.view(func(tx *state.Tx) error {
		return tx.KVGetList(eventsIndexKey, &list)
	})
	return list, err
}

// EventsCount returns the number of registered events.
func (e *Engine) EventsCount() (int, error) {
	list, err := e.eventIndex()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// EventAt returns the record of the i-th registered event in registration
// order.
func (e *Engine) EventAt(i int) (*EventRecord, error) {
	list, err := e.eventIndex()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(list) {
		return nil, ErrIndexOutOfRange
	}
	var id [20]byte
	copy(id[:], list[i])
	return e.Event(id)
}

// CalculateFinalPrice returns what a buyer pays for a resale at price. Only
// the event itself may ask.
func (e *Engine) CalculateFinalPrice(caller, event [20]byte, price *big.Int) (*big.Int, error) {
	if err := fees.CheckAmount(price); err != nil {
		return nil, err
	}
	record, err := e.Event(event)
	if err != nil {
		return nil, err
	}
	if caller != event {
		return nil, ErrUnauthorized
	}
	return fees.FinalPrice(record.Rules, price), nil
}
