package store

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	icauth "github.com/onicai/go-icauth"
)

// kvEntry is one persisted key/value pair.
type kvEntry struct {
	bun.BaseModel `bun:"table:session_kv,alias:kv"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// BunStore is the durable session store.
type BunStore struct {
	db     *bun.DB
	logger icauth.Logger
}

var _ icauth.Store = (*BunStore)(nil)

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+path+"?cache=shared&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to open session store")
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// NewBunStore wraps db and ensures the backing table exists.
func NewBunStore(ctx context.Context, db *bun.DB, logger icauth.Logger) (*BunStore, error) {
	if logger == nil {
		logger = icauth.DefaultLogger()
	}
	if _, err := db.NewCreateTable().Model((*kvEntry)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create session table")
	}
	return &BunStore{db: db, logger: logger}, nil
}

// Load reads the session record. A missing record yields (nil, nil). A
// corrupt record is cleared and also yields (nil, nil): corruption is
// indistinguishable from expiry for the caller and must never crash a
// startup restore.
func (s *BunStore) Load(ctx context.Context) (*icauth.SessionRecord, error) {
	entry := new(kvEntry)
	err := s.db.NewSelect().Model(entry).Where("key = ?", KeySessionInfo).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read session record")
	}

	rec, decodeErr := decodeRecord([]byte(entry.Value))
	if decodeErr != nil {
		s.logger.Error("corrupt session record, clearing: %v", decodeErr)
		if clearErr := s.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}
	return rec, nil
}

// Save writes the record and keeps the legacy isAuthed flag in sync.
func (s *BunStore) Save(ctx context.Context, rec *icauth.SessionRecord) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session record")
	}
	if err := s.upsert(ctx, KeySessionInfo, string(encoded)); err != nil {
		return err
	}
	return s.upsert(ctx, KeyIsAuthed, string(rec.LoginType))
}

func (s *BunStore) upsert(ctx context.Context, key, value string) error {
	entry := &kvEntry{Key: key, Value: value}
	_, err := s.db.NewInsert().
		Model(entry).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to write session record")
	}
	return nil
}

// Clear deletes the record and the legacy flag.
func (s *BunStore) Clear(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*kvEntry)(nil)).
		Where("key IN (?, ?)", KeySessionInfo, KeyIsAuthed).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to clear session record")
	}
	return nil
}

// LegacyLoginType reads the old isAuthed flag.
func (s *BunStore) LegacyLoginType(ctx context.Context) (icauth.LoginType, bool, error) {
	entry := new(kvEntry)
	err := s.db.NewSelect().Model(entry).Where("key = ?", KeyIsAuthed).Scan(ctx)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read legacy login flag")
	}
	loginType, parseErr := icauth.ParseLoginType(entry.Value)
	if parseErr != nil {
		return "", false, nil
	}
	return loginType, true, nil
}
