package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"safevault/core/events"
	"safevault/core/types"
)

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its digest does not match its contents.
var ErrChainBroken = errors.New("journal: hash chain broken")

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one committed vault event. Entries form a hash chain: each Hash
// covers the previous entry's Hash plus this entry's sequence, type and
// attributes.
type Entry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64            `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string            `gorm:"size:64;index" json:"type"`
	Owner      string            `gorm:"size:128;index" json:"owner,omitempty"`
	Attributes string            `gorm:"type:text" json:"-"`
	Attrs      map[string]string `gorm:"-" json:"attributes"`
	PrevHash   string            `gorm:"size:64" json:"prevHash"`
	Hash       string            `gorm:"size:64;uniqueIndex" json:"hash"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// TableName pins the table name independent of struct renames.
func (Entry) TableName() string { return "vault_journal" }

// Open connects to the journal database for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
}

// Journal appends vault events to a SQL table and serves them back.
type Journal struct {
	db      *gorm.DB
	log     *slog.Logger
	mu      sync.Mutex
	nowFn   func() time.Time
	timeout time.Duration
}

// New migrates the schema and returns a journal bound to db.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, log: log, nowFn: time.Now, timeout: 5 * time.Second}, nil
}

// SetNowFunc overrides the clock used for CreatedAt.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.nowFn = now
}

// Emit implements events.Emitter. Failures are logged; the state commit the
// event describes has already happened.
func (j *Journal) Emit(evt events.Event) {
	payload := eventPayload(evt)
	if payload == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.Append(ctx, payload); err != nil {
		j.log.Error("journal append failed", slog.String("type", payload.Type), slog.String("error", err.Error()))
	}
}

func eventPayload(evt events.Event) *types.Event {
	switch e := evt.(type) {
	case nil:
		return nil
	case *types.Event:
		return e
	case interface{ Event() *types.Event }:
		return e.Event()
	default:
		return &types.Event{Type: evt.EventType()}
	}
}

// Append stores evt as the next entry in the chain.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Entry, error) {
	if evt == nil || evt.Type == "" {
		return nil, fmt.Errorf("journal: event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		ID:         uuid.New(),
		Type:       evt.Type,
		Owner:      attrs["owner"],
		Attributes: string(encoded),
		Attrs:      attrs,
		CreatedAt:  j.nowFn().UTC(),
	}
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last Entry
		res := tx.Order("sequence desc").Limit(1).Find(&last)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			entry.Sequence = last.Sequence + 1
			entry.PrevHash = last.Hash
		} else {
			entry.Sequence = 1
		}
		entry.Hash = digest(entry.PrevHash, entry.Sequence, entry.Type, entry.Attributes)
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var entries []Entry
	if err := j.db.WithContext(ctx).Order("sequence desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	for i := range entries {
		if err := decodeAttrs(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Verify walks the full chain in sequence order and recomputes every digest.
func (j *Journal) Verify(ctx context.Context) error {
	var entries []Entry
	if err := j.db.WithContext(ctx).Order("sequence asc").Find(&entries).Error; err != nil {
		return fmt.Errorf("journal: load: %w", err)
	}
	prev := ""
	for i, entry := range entries {
		if entry.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: sequence gap at %d", ErrChainBroken, entry.Sequence)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: entry %d does not link to its predecessor", ErrChainBroken, entry.Sequence)
		}
		if entry.Hash != digest(entry.PrevHash, entry.Sequence, entry.Type, entry.Attributes) {
			return fmt.Errorf("%w: entry %d digest mismatch", ErrChainBroken, entry.Sequence)
		}
		prev = entry.Hash
	}
	return nil
}

func decodeAttrs(entry *Entry) error {
	entry.Attrs = map[string]string{}
	if entry.Attributes == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(entry.Attributes), &entry.Attrs); err != nil {
		return fmt.Errorf("journal: decode entry %d: %w", entry.Sequence, err)
	}
	return nil
}

func digest(prev string, seq uint64, eventType, attrs string) string {
	h := blake3.New(32, nil)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	for _, part := range [][]byte{[]byte(prev), seqBuf[:], []byte(eventType), []byte(attrs)} {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(part)))
		h.Write(lenBuf[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
