package projection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/landsure/landsure-registry/interfaces"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Config selects the projection database.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" envconfig:"DRIVER"`

	// DSN is a postgres connection string or a sqlite directory. An empty sqlite
	// DSN opens a private in-memory database.
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

// Store is the gorm implementation of interfaces.ProjectionStore.
type Store struct {
	db     *gorm.DB
	driver string
	log    *slog.Logger
	now    func() time.Time
}

func New(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	gormCfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if cfg.DSN != "" {
			if err := os.MkdirAll(cfg.DSN, 0o755); err != nil {
				return nil, fmt.Errorf("creating projection directory: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.DSN)), gormCfg)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres projection requires a DSN")
		}
		gormCfg.PrepareStmt = true
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported projection driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening projection database: %w", err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer; serializing connections avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	for _, model := range []any{&certificateRow{}, &tokenRow{}} {
		log.Debug("migrating projection table", "model", fmt.Sprintf("%T", model))
		if err := db.AutoMigrate(model); err != nil {
			return nil, fmt.Errorf("migrating projection schema: %w", err)
		}
	}

	return &Store{
		db:     db,
		driver: driver,
		log:    log.With("component", "projection", "driver", driver),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

func sqliteDSN(dir string) string {
	if dir == "" {
		// Every in-memory store gets its own name so stores never share a cache.
		return fmt.Sprintf("file:projection-%s?mode=memory&cache=shared", uuid.NewString())
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", filepath.Join(dir, "projection.sqlite"))
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert merges fields into the record for id inside one transaction. The row
// is only written when its content changes, so replaying the same input leaves
// the stored state untouched, timestamps included.
func (s *Store) Upsert(ctx context.Context, id interfaces.CertificateID, fields interfaces.ProjectionFields) (*interfaces.ProjectionRecord, error) {
	if id == "" {
		return nil, interfaces.NewValidationError("certificateId", "must not be empty")
	}
	if fields.Certificate != nil && fields.Certificate.CertificateID != id {
		return nil, interfaces.NewValidationError("certificateId", "does not match the certificate being projected")
	}
	for i := range fields.Tokens {
		if fields.Tokens[i].CertificateID != id {
			return nil, interfaces.NewValidationError("tokens", fmt.Sprintf("token %s belongs to %s", fields.Tokens[i].TokenID, fields.Tokens[i].CertificateID))
		}
	}

	var result *interfaces.ProjectionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merged, err := s.mergeRow(tx, id, fields)
		if errors.Is(err, errCreateRace) {
			// Another writer created the row after our read; merge into theirs.
			merged, err = s.mergeRow(tx, id, fields)
		}
		if err != nil {
			return err
		}

		if len(fields.Tokens) > 0 {
			rows := make([]tokenRow, 0, len(fields.Tokens))
			for i := range fields.Tokens {
				rows = append(rows, newTokenRow(&fields.Tokens[i]))
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "token_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"certificate_id", "current_owner", "burned"}),
			}).CreateInBatches(rows, 500).Error
			if err != nil {
				return err
			}
		}

		rec, err := merged.toRecord()
		if err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("projection upsert %s: %w", id, err)
	}
	return result, nil
}

// errCreateRace reports that the row being created already exists.
var errCreateRace = errors.New("certificate row created concurrently")

// mergeRow reads the row for id, merges fields into it and writes it back when
// its content changed.
func (s *Store) mergeRow(tx *gorm.DB, id interfaces.CertificateID, fields interfaces.ProjectionFields) (*certificateRow, error) {
	query := tx
	if s.driver == DriverPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var current certificateRow
	exists := true
	if err := query.Where("certificate_id = ?", string(id)).Take(&current).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		exists = false
		current = certificateRow{CertificateID: string(id)}
	}

	merged := current
	now := s.now()

	if fields.Certificate != nil {
		if err := merged.setLedgerState(fields.Certificate); err != nil {
			return nil, err
		}
		if merged.SyncedAt == nil || !ledgerColumnsEqual(&current, &merged) {
			merged.SyncedAt = &now
		}
	}
	if !fields.Presentation.IsEmpty() {
		if err := merged.mergePresentation(fields.Presentation); err != nil {
			return nil, err
		}
	}

	switch {
	case !exists:
		merged.CreatedAt = now
		merged.UpdatedAt = now
		if err := createRow(tx, &merged); err != nil {
			return nil, err
		}
	case !merged.sameContent(&current):
		merged.UpdatedAt = now
		if err := tx.Save(&merged).Error; err != nil {
			return nil, err
		}
	default:
		s.log.Debug("projection unchanged", "certificateId", id)
	}
	return &merged, nil
}

// createRow inserts row unless its key is already taken. A row locked with
// FOR UPDATE cannot be locked before it exists, so two first writers can both
// get here.
func createRow(tx *gorm.DB, row *certificateRow) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errCreateRace
	}
	return nil
}

func ledgerColumnsEqual(a, b *certificateRow) bool {
	return a.MainOwner == b.MainOwner &&
		a.TotalArea == b.TotalArea &&
		a.NumberOfTokens == b.NumberOfTokens &&
		a.CertificateHash == b.CertificateHash &&
		a.TokenIDs == b.TokenIDs
}

func (s *Store) Get(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	var row certificateRow
	err := s.db.WithContext(ctx).Where("certificate_id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: certificate %s", interfaces.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("projection get %s: %w", id, err)
	}
	return row.toRecord()
}

func (s *Store) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).Where("token_id = ?", uint64(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: token %s", interfaces.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("projection get token %s: %w", id, err)
	}
	return row.toToken()
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]interfaces.ProjectionRecord, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	// Rows holding only presentation fields are not certificates yet.
	var rows []certificateRow
	err := s.db.WithContext(ctx).
		Where("synced_at IS NOT NULL").
		Order("certificate_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("projection list: %w", err)
	}

	records := make([]interfaces.ProjectionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

var _ interfaces.ProjectionStore = (*Store)(nil)
