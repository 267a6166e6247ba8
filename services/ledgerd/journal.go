package ledgerd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketledger/core/events"
	"ticketledger/core/types"
	"ticketledger/observability"
)

// JournalEntry is one committed billing event.
type JournalEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Event      string    `gorm:"size:96;index" json:"event,omitempty"`
	Ticket     string    `gorm:"size:80;index" json:"ticket,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// AutoMigrate performs the journal schema migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&JournalEntry{})
}

// OpenJournalDB opens the journal database for driver ("sqlite" or
// "postgres") and migrates it.
func OpenJournalDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return db, nil
}

// Journal persists billing events and fans them out to an optional
// downstream emitter. It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	next   events.Emitter
	logger *slog.Logger
	now    func() time.Time
}

// NewJournal binds a journal to db. next may be nil.
func NewJournal(db *gorm.DB, next events.Emitter, logger *slog.Logger) *Journal {
	if next == nil {
		next = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, next: next, logger: logger, now: time.Now}
}

// Emit implements events.Emitter. Persistence failures are logged and counted;
// the ledger state has already committed by the time events are emitted.
func (j *Journal) Emit(evt events.Event) {
	defer j.next.Emit(evt)
	wrapped, ok := evt.(interface{ Event() *types.Event })
	if !ok || wrapped.Event() == nil {
		return
	}
	payload := wrapped.Event()
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		j.drop(payload.Type, err)
		return
	}
	entry := JournalEntry{
		ID:         uuid.New(),
		Type:       payload.Type,
		Event:      payload.Attributes["event"],
		Ticket:     payload.Attributes["ticket"],
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.Create(&entry).Error; err != nil {
		j.drop(payload.Type, err)
		return
	}
	observability.Events().RecordJournaled(payload.Type)
}

func (j *Journal) drop(eventType string, err error) {
	observability.Events().RecordDropped(eventType)
	j.logger.Error("journal: failed to persist event", "event_type", eventType, "error", err)
}

// JournalQuery filters List.
type JournalQuery struct {
	Event  string
	Ticket string
	Type   string
	Limit  int
}

// JournalRecord is the decoded form of a JournalEntry.
type JournalRecord struct {
	JournalEntry
	Attributes map[string]string `json:"attributes"`
}

// List returns the newest entries matching q, newest first.
func (j *Journal) List(ctx context.Context, q JournalQuery) ([]JournalRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx := j.db.WithContext(ctx).Model(&JournalEntry{})
	if q.Event != "" {
		tx = tx.Where("event = ?", q.Event)
	}
	if q.Ticket != "" {
		tx = tx.Where("ticket = ?", q.Ticket)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	var rows []JournalEntry
	if err := tx.Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]JournalRecord, 0, len(rows))
	for _, row := range rows {
		record := JournalRecord{JournalEntry: row, Attributes: map[string]string{}}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &record.Attributes); err != nil {
				return nil, fmt.Errorf("journal: decode entry %s: %w", row.ID, err)
			}
		}
		out = append(out, record)
	}
	return out, nil
}
