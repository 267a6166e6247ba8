package billing

import (
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"ticketledger/core/events"
	"ticketledger/core/state"
	"ticketledger/core/types"
	"ticketledger/native/fees"
)

type engineState interface {
	Update(fn func(tx *state.Tx) error) error
	View(fn func(tx *state.Tx) error) error
}

// Metrics receives operation outcomes and money flows. Implementations must be
// safe for concurrent use.
type Metrics interface {
	Observe(operation string, duration time.Duration, err error)
	RecordFlow(flow, currency string, amount *big.Int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(string, time.Duration, error) {}
func (noopMetrics) RecordFlow(string, string, *big.Int) {}

type billingEvent struct {
	evt *types.Event
}

func (e billingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e billingEvent) Event() *types.Event { return e.evt }

// Engine is the resale accounting core. Every public operation runs as one
// state transaction guarded by per-row locks; events are emitted only after
// the transaction commits.
type Engine struct {
	owner         [20]byte
	state         engineState
	directory     TicketDirectory
	emitter       events.Emitter
	feeRecipient  [20]byte
	defaultRules  fees.Rules
	defaultPolicy Policy
	nowFn         func() int64
	logger        *slog.Logger
	metrics       Metrics
	locks         *lockTable
}

// NewEngine creates an engine administered by owner. Only owner may register
// events, change rules or unlock escrow.
func NewEngine(owner [20]byte) *Engine {
	return &Engine{
		owner:        owner,
		emitter:      events.NoopEmitter{},
		defaultRules: fees.DefaultRules(),
		nowFn:        func() int64 { return time.Now().Unix() },
		logger:       slog.Default(),
		metrics:      noopMetrics{},
		locks:        newLockTable(),
	}
}

// Owner returns the administrative account.
func (e *Engine) Owner() [20]byte { return e.owner }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTicketDirectory configures the external ticket manager. Without one the
// engine falls back to the prices and owners mirrored from its own hooks.
func (e *Engine) SetTicketDirectory(dir TicketDirectory) { e.directory = dir }

// SetFeeRecipient configures the account receiving platform fees.
func (e *Engine) SetFeeRecipient(addr [20]byte) { e.feeRecipient = addr }

// SetDefaultRules configures the rules applied by RegisterEvent.
func (e *Engine) SetDefaultRules(rules fees.Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	e.defaultRules = rules
	return nil
}

// SetDefaultPolicy configures the payout policy of newly registered events.
func (e *Engine) SetDefaultPolicy(policy Policy) { e.defaultPolicy = policy }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger replaces the engine logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics installs a metrics sink. Passing nil disables metrics.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = m
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(billingEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

type flow struct {
	name     string
	currency string
	amount   *big.Int
}

// txn wraps a state transaction with the events and flows produced by an
// operation. Both are only published once the transaction commits.
type txn struct {
	*state.Tx
	events []*types.Event
	flows  []flow
}

func (t *txn) emit(evt *types.Event) {
	t.events = append(t.events, evt)
}

func (t *txn) mint(currency string, account [20]byte, amount *big.Int, name string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := t.Mint(currency, account, amount); err != nil {
		return err
	}
	t.flows = append(t.flows, flow{name: name, currency: currency, amount: cloneBigInt(amount)})
	t.emit(newPayoutEvent(account, currency, amount, name))
	return nil
}

func (t *txn) burn(currency string, account [20]byte, amount *big.Int, name string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := t.Burn(currency, account, amount); err != nil {
		if errors.Is(err, state.ErrInsufficientBalance) {
			return ErrInsufficientFunds
		}
		return err
	}
	t.flows = append(t.flows, flow{name: name, currency: currency, amount: cloneBigInt(amount)})
	t.emit(newChargeEvent(account, currency, amount, name))
	return nil
}

// execute runs fn under the supplied locks inside a single state transaction.
func (e *Engine) execute(op string, keys []lockKey, fn func(tx *txn) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release := e.locks.acquire(keys...)
	defer release()
	return e.commit(op, fn)
}

// commit runs fn in a transaction without touching locks; the caller must
// already hold every lock the operation needs.
func (e *Engine) commit(op string, fn func(tx *txn) error) error {
	start := time.Now()
	var pending *txn
	err := e.state.Update(func(tx *state.Tx) error {
		pending = &txn{Tx: tx}
		return fn(pending)
	})
	e.metrics.Observe(op, time.Since(start), err)
	if err != nil {
		return err
	}
	for _, f := range pending.flows {
		e.metrics.RecordFlow(f.name, f.currency, f.amount)
	}
	for _, evt := range pending.events {
		e.emit(evt)
	}
	return nil
}

func (e *Engine) view(fn func(tx *state.Tx) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.View(fn)
}

func (e *Engine) requireOwner(caller [20]byte, op string) error {
	if caller != e.owner {
		e.logger.Warn("billing: rejected admin operation", "operation", op, "reason", "caller is not owner")
		return ErrUnauthorized
	}
	return nil
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

var (
	eventPrefix     = []byte("billing/event/")
	eventsIndexKey  = []byte("billing/events")
	statsPrefix     = []byte("billing/stats/")
	ticketStatePref = []byte("billing/ticket/")
)

func eventKey(event [20]byte) []byte {
	return append(append([]byte(nil), eventPrefix...), event[:]...)
}

func statsKey(event [20]byte) []byte {
	return append(append([]byte(nil), statsPrefix...), event[:]...)
}

func ticketStateKey(event [20]byte, ticket [32]byte) []byte {
	buf := append(append([]byte(nil), ticketStatePref...), event[:]...)
	return append(buf, ticket[:]...)
}

func loadEvent(tx *state.Tx, event [20]byte) (*EventRecord, error) {
	record := new(EventRecord)
	ok, err := tx.KVGet(eventKey(event), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownEvent
	}
	return record, nil
}

func storeEvent(tx *state.Tx, record *EventRecord) error {
	return tx.KVPut(eventKey(record.ID), record)
}

func loadStats(tx *state.Tx, event [20]byte) (*Stats, error) {
	stats := new(Stats)
	ok, err := tx.KVGet(statsKey(event), stats)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newStats(), nil
	}
	stats.sanitize()
	return stats, nil
}

func storeStats(tx *state.Tx, event [20]byte, stats *Stats) error {
	return tx.KVPut(statsKey(event), stats)
}

func loadTicket(tx *state.Tx, event [20]byte, ticket [32]byte) (*ticketState, error) {
	ts := new(ticketState)
	ok, err := tx.KVGet(ticketStateKey(event, ticket), ts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ticketState{FirstPrice: big.NewInt(0), LastPrice: big.NewInt(0)}, nil
	}
	ts.FirstPrice = cloneBigInt(ts.FirstPrice)
	ts.LastPrice = cloneBigInt(ts.LastPrice)
	return ts, nil
}

func storeTicket(tx *state.Tx, event [20]byte, ticket [32]byte, ts *ticketState) error {
	return tx.KVPut(ticketStateKey(event, ticket), ts)
}

// authorizeHook loads the event and checks that the caller is the event
// itself. Unknown events are reported before authorization failures.
func authorizeHook(tx *state.Tx, caller, event [20]byte) (*EventRecord, error) {
	record, err := loadEvent(tx, event)
	if err != nil {
		return nil, err
	}
	if caller != event {
		return nil, ErrUnauthorized
	}
	return record, nil
}

// bindCurrency pins the event to the first currency it settles in.
func bindCurrency(tx *state.Tx, record *EventRecord, currency string) error {
	normalized := normalizeCurrency(currency)
	if normalized == "" {
		return ErrCurrencyMismatch
	}
	if record.Currency == "" {
		record.Currency = normalized
		return storeEvent(tx, record)
	}
	if record.Currency != normalized {
		return ErrCurrencyMismatch
	}
	return nil
}
