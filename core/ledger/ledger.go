package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrUnknownField      = errors.New("unknown balance field")
)

type Field string

const (
	FieldAvailable Field = "available"
	FieldLocked    Field = "locked"
)

// Balance is a point-in-time view of one trader's escrow split.
type Balance struct {
	Available fpdecimal.Decimal `json:"available"`
	Locked    fpdecimal.Decimal `json:"locked"`
}

type account struct {
	available fpdecimal.Decimal
	locked    fpdecimal.Decimal
}

// AnomalySink receives soft invariant violations (release shortfalls and
// the like) for persistent trace.
type AnomalySink func(kind, detail string)

// Ledger holds every trader's available/locked balances. A single mutex
// serializes mutations, which also serializes each trader's history.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	funded   fpdecimal.Decimal
	anomaly  AnomalySink
	logger   *zap.Logger
}

func NewLedger(log *zap.Logger, sink AnomalySink) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		accounts: make(map[string]*account),
		anomaly:  sink,
		logger:   log,
	}
}

func (l *Ledger) account(trader string) *account {
	a, ok := l.accounts[trader]
	if !ok {
		a = &account{}
		l.accounts[trader] = a
	}
	return a
}

func negative(amount fpdecimal.Decimal) bool {
	return fpdecimal.Zero.GreaterThan(amount)
}

// Balance reads one trader's split; missing accounts read as zero.
func (l *Ledger) Balance(trader string) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[trader]; ok {
		return Balance{Available: a.available, Locked: a.locked}
	}
	return Balance{}
}

// Fund credits external money into a trader's available balance and
// counts it toward the conservation total.
func (l *Ledger) Fund(trader string, amount fpdecimal.Decimal) error {
	if negative(amount) {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account(trader)
	a.available = a.available.Add(amount)
	l.funded = l.funded.Add(amount)
	return nil
}

func (l *Ledger) Credit(trader string, amount fpdecimal.Decimal, field Field) error {
	if negative(amount) {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(trader, amount, field)
}

func (l *Ledger) credit(trader string, amount fpdecimal.Decimal, field Field) error {
	a := l.account(trader)
	switch field {
	case FieldAvailable:
		a.available = a.available.Add(amount)
	case FieldLocked:
		a.locked = a.locked.Add(amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

func (l *Ledger) Debit(trader string, amount fpdecimal.Decimal, field Field) error {
	if negative(amount) {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(trader, amount, field)
}

func (l *Ledger) debit(trader string, amount fpdecimal.Decimal, field Field) error {
	a := l.account(trader)
	switch field {
	case FieldAvailable:
		if amount.GreaterThan(a.available) {
			return fmt.Errorf("%w: debit %s available %s < %s", ErrInsufficientFunds, trader, a.available, amount)
		}
		a.available = a.available.Sub(amount)
	case FieldLocked:
		if amount.GreaterThan(a.locked) {
			return fmt.Errorf("%w: debit %s locked %s < %s", ErrInsufficientFunds, trader, a.locked, amount)
		}
		a.locked = a.locked.Sub(amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return nil
}

// Lock earmarks available funds: available -= amount, locked += amount.
func (l *Ledger) Lock(trader string, amount fpdecimal.Decimal) error {
	if negative(amount) {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.account(trader)
	if amount.GreaterThan(a.available) {
		return fmt.Errorf("%w: lock %s available %s < %s", ErrInsufficientFunds, trader, a.available, amount)
	}
	a.available = a.available.Sub(amount)
	a.locked = a.locked.Add(amount)
	return nil
}

// Release moves locked funds back to available. A release exceeding the
// locked balance is clamped and recorded as a soft anomaly, not an error.
func (l *Ledger) Release(trader string, amount fpdecimal.Decimal, reason string) error {
	if negative(amount) {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.account(trader)
	rel := amount
	if amount.GreaterThan(a.locked) {
		rel = a.locked
		detail := fmt.Sprintf("release %s for %s: wanted %s, locked only %s", reason, trader, amount, a.locked)
		l.logger.Warn("release shortfall", zap.String("trader", trader), zap.String("reason", reason),
			zap.String("wanted", amount.String()), zap.String("locked", a.locked.String()))
		if l.anomaly != nil {
			l.anomaly("release_shortfall", detail)
		}
	}
	a.locked = a.locked.Sub(rel)
	a.available = a.available.Add(rel)
	return nil
}

// Transfer debits one account and credits another as a unit.
func (l *Ledger) Transfer(from, to string, amount fpdecimal.Decimal, fromField, toField Field) error {
	if negative(amount) {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount, fromField); err != nil {
		return err
	}
	if err := l.credit(to, amount, toField); err != nil {
		// undo the debit so neither side moves
		_ = l.credit(from, amount, fromField)
		return err
	}
	return nil
}

// Snapshot returns every materialized account's split.
func (l *Ledger) Snapshot() map[string]Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]Balance, len(l.accounts))
	for trader, a := range l.accounts {
		out[trader] = Balance{Available: a.available, Locked: a.locked}
	}
	return out
}

// Total sums available+locked over all accounts. With fees flowing to a
// platform account inside the ledger, Total equals TotalFunded at every
// quiescent state.
func (l *Ledger) Total() fpdecimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := fpdecimal.Zero
	for _, a := range l.accounts {
		sum = sum.Add(a.available).Add(a.locked)
	}
	return sum
}

// TotalFunded is the external money introduced so far.
func (l *Ledger) TotalFunded() fpdecimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.funded
}

// Reset wipes all accounts and the funding counter.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[string]*account)
	l.funded = fpdecimal.Zero
}
