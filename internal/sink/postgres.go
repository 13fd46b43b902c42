package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessLogRow is the table layout of the postgres sink. The full rendered
// entry is kept as JSONB next to the indexed columns.
type AccessLogRow struct {
	ID                 string    `gorm:"primaryKey;type:text"`
	StartedAt          time.Time `gorm:"index"`
	Method             string    `gorm:"type:text"`
	Path               string    `gorm:"type:text"`
	Host               string    `gorm:"type:text"`
	ClientIP           string    `gorm:"type:text"`
	Status             int
	LatencyMs          int64
	MatcherID          string `gorm:"type:text;index"`
	ShortCircuited     bool
	ShortCircuitReason string `gorm:"type:text"`
	Entry              []byte `gorm:"type:jsonb"`
	CreatedAt          time.Time
}

func (AccessLogRow) TableName() string {
	return "access_logs"
}

// PostgresSink inserts one row per record.
type PostgresSink struct {
	name   string
	db     *gorm.DB
	table  string
	opener body.Opener
	limit  int
}

type postgresSettings struct {
	Table       string `mapstructure:"table"`
	AutoMigrate *bool  `mapstructure:"auto_migrate"`
}

func NewPostgresSink(name string, db *gorm.DB, table string, migrate bool, opener body.Opener, limit int) (*PostgresSink, error) {
	if table == "" {
		table = AccessLogRow{}.TableName()
	}
	if migrate {
		if err := db.Table(table).AutoMigrate(&AccessLogRow{}); err != nil {
			return nil, apperrors.New(apperrors.ErrSink, "failed to migrate "+table, err)
		}
	}
	return &PostgresSink{name: name, db: db, table: table, opener: opener, limit: limit}, nil
}

func (s *PostgresSink) LogAccess(ctx context.Context, rec *model.LogRecord) error {
	entry, err := RenderJSON(ctx, rec, s.opener, s.limit)
	if err != nil {
		return apperrors.New(apperrors.ErrSink, "failed to encode entry", err)
	}
	row := &AccessLogRow{
		ID:                 rec.ID,
		StartedAt:          rec.StartedAt,
		Method:             rec.Method,
		Path:               rec.Path,
		Host:               rec.Host,
		ClientIP:           rec.ClientIP,
		Status:             rec.Status,
		LatencyMs:          rec.LatencyMs,
		MatcherID:          rec.MatcherID,
		ShortCircuited:     rec.ShortCircuited,
		ShortCircuitReason: rec.ShortCircuitReason,
		Entry:              entry,
	}
	err = s.db.WithContext(ctx).
		Table(s.table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		return apperrors.New(apperrors.ErrSink, "insert into "+s.table+" failed", err)
	}
	return nil
}

func (s *PostgresSink) Describe() string {
	return "postgres:" + s.name
}

// OpenPostgres opens a pooled gorm connection.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, apperrors.Config("database dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}
