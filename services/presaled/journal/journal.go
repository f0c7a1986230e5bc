package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"tokensale/core/events"
	"tokensale/core/types"
)

// GenesisHash links the first entry of the chain.
var GenesisHash = strings.Repeat("0", 64)

var (
	// ErrChainBroken is returned by Verify when an entry does not link to its
	// predecessor or its hash does not match its content.
	ErrChainBroken = errors.New("journal: hash chain broken")

	errNilEvent = errors.New("journal: nil event")
)

// DefaultListLimit bounds List when no limit is supplied.
const DefaultListLimit = 100

// MaxListLimit caps the page size accepted by List.
const MaxListLimit = 1000

// Entry is one persisted ledger event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	PrevHash   string    `gorm:"size:64"`
	Hash       string    `gorm:"size:64;uniqueIndex"`
	RecordedAt time.Time `gorm:"index"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "journal_entries" }

// Event decodes the stored attributes back into an event.
func (e Entry) Event() (*types.Event, error) {
	attrs := make(map[string]string)
	if e.Attributes != "" {
		if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes of %d: %w", e.Sequence, err)
		}
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// Open connects to the journal database using the named driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return db, nil
}

// AutoMigrate creates or updates the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Journal appends ledger events to an append-only, hash-linked table.
type Journal struct {
	db     *gorm.DB
	mu     sync.Mutex
	nowFn  func() time.Time
	logger *log.Logger
}

// New migrates the schema and returns a journal bound to db.
func New(db *gorm.DB, logger *log.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Journal{db: db, nowFn: time.Now, logger: logger}, nil
}

// SetNowFunc overrides the clock used to stamp entries.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		j.nowFn = time.Now
		return
	}
	j.nowFn = now
}

// Emit implements events.Emitter. Persistence failures are logged; the ledger
// state has already been committed when events fire.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), evt.Event()); err != nil {
		j.logger.Printf("journal: append %s: %v", evt.EventType(), err)
	}
}

// Append stores evt after the current head of the chain.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Entry, error) {
	if evt == nil {
		return nil, errNilEvent
	}
	attrs, err := encodeAttributes(evt.Attributes)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	var entry *Entry
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev := GenesisHash
		var seq uint64 = 1
		var head Entry
		res := tx.Order("sequence desc").Limit(1).Find(&head)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			prev = head.Hash
			seq = head.Sequence + 1
		}
		entry = &Entry{
			ID:         uuid.New(),
			Sequence:   seq,
			Type:       evt.Type,
			Attributes: attrs,
			PrevHash:   prev,
			RecordedAt: j.nowFn().UTC().Truncate(time.Microsecond),
		}
		entry.Hash = computeHash(entry)
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}
	return entry, nil
}

// List returns up to limit entries with a sequence greater than after.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var out []Entry
	err := j.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence asc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}

// Head returns the latest entry, or nil for an empty journal.
func (j *Journal) Head(ctx context.Context) (*Entry, error) {
	var head Entry
	res := j.db.WithContext(ctx).Order("sequence desc").Limit(1).Find(&head)
	if res.Error != nil {
		return nil, fmt.Errorf("journal: head: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &head, nil
}

// Verify walks the chain from genesis and returns the number of entries
// checked.
func (j *Journal) Verify(ctx context.Context) (uint64, error) {
	prev := GenesisHash
	var (
		expected uint64 = 1
		after    uint64
	)
	for {
		page, err := j.List(ctx, after, MaxListLimit)
		if err != nil {
			return expected - 1, err
		}
		if len(page) == 0 {
			return expected - 1, nil
		}
		for i := range page {
			entry := &page[i]
			if entry.Sequence != expected {
				return expected - 1, fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, expected, entry.Sequence)
			}
			if entry.PrevHash != prev {
				return expected - 1, fmt.Errorf("%w: entry %d does not link to its predecessor", ErrChainBroken, entry.Sequence)
			}
			if computeHash(entry) != entry.Hash {
				return expected - 1, fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, entry.Sequence)
			}
			prev = entry.Hash
			after = entry.Sequence
			expected++
		}
	}
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	// encoding/json emits map keys sorted.
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("journal: encode attributes: %w", err)
	}
	return string(raw), nil
}

func computeHash(e *Entry) string {
	h := blake3.New(32, nil)
	var buf [8]byte
	h.Write([]byte(e.PrevHash))
	binary.BigEndian.PutUint64(buf[:], e.Sequence)
	h.Write(buf[:])
	h.Write([]byte(e.Type))
	h.Write([]byte{0})
	h.Write([]byte(e.Attributes))
	binary.BigEndian.PutUint64(buf[:], uint64(e.RecordedAt.UnixMicro()))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}
