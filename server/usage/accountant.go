package usage

import (
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"go.uber.org/zap"
)

// MonthFormat is the layout of Key.Month.
const MonthFormat = "2006-01"

// Accountant turns a successful call's usage into counter increments.
type Accountant struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewAccountant creates an accountant over store.
func NewAccountant(store Store, logger *zap.Logger) *Accountant {
	return &Accountant{store: store, now: time.Now, logger: logger}
}

// Record adds u to the user's input and output counters for scope in the
// current month. Both increments are attempted even if the first fails.
func (a *Accountant) Record(user, scope string, u chat.Usage) error {
	month := a.now().UTC().Format(MonthFormat)
	in := Key{User: user, Scope: scope, Month: month, Direction: Input}
	out := Key{User: user, Scope: scope, Month: month, Direction: Output}

	errIn := a.store.Increment(in, u.InputTokens)
	errOut := a.store.Increment(out, u.OutputTokens)
	if errIn != nil {
		return errIn
	}
	if errOut != nil {
		return errOut
	}

	a.logger.Debug("usage recorded",
		zap.String("user", user),
		zap.String("scope", scope),
		zap.String("month", month),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens))
	return nil
}

// Store returns the backing store.
func (a *Accountant) Store() Store { return a.store }

// NewStore builds the backend named by cfg. The returned close function
// flushes the file backend and is a no-op for memory.
func NewStore(cfg config.UsageConfig, logger *zap.Logger) (Store, func() error, error) {
	if cfg.Backend == "file" {
		fs, err := NewFileStore(cfg.Path, cfg.SaveInterval, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil
	}
	return NewMemoryStore(), func() error { return nil }, nil
}
