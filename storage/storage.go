package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"soulagent/core"
)

var ErrNotFound = errors.New("storage: not found")

// Config selects the database. Driver is "sqlite" (default) or "postgres".
type Config struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

func DefaultConfig() Config {
	return Config{Driver: "sqlite", DSN: "soulagent.db"}
}

// Message is one line of a session transcript.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:128;index;not null" json:"session_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Text      string    `gorm:"type:text" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Biodata is the profile extracted from a session's transcript.
type Biodata struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:128;uniqueIndex;not null" json:"session_id"`
	Name      string    `json:"name"`
	Hometown  string    `json:"hometown"`
	Likes     string    `gorm:"type:text" json:"likes"`
	DreamCity string    `json:"dream_city"`
	Dislikes  string    `gorm:"type:text" json:"dislikes"`
	Height    string    `json:"height"`
	Missing   []string  `gorm:"serializer:json" json:"missing"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InterviewStatus is how far a session's interview got. Complete means
// every question was answered.
type InterviewStatus struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:128;uniqueIndex;not null" json:"session_id"`
	Answered  int       `json:"answered"`
	Total     int       `json:"total"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists transcripts, interview status and biodata. It implements
// interview.MessageLogger and interview.StatusRecorder.
type Store struct {
	db     *gorm.DB
	logger *core.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, logger *core.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if cfg.Driver != "postgres" {
		// SQLite allows one writer, and each :memory: connection is its own
		// database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewStore(db, logger)
}

// NewStore wraps an open connection and migrates the schema.
func NewStore(db *gorm.DB, logger *core.Logger) (*Store, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	if err := db.AutoMigrate(&Message{}, &InterviewStatus{}, &Biodata{}); err != nil {
		return nil, fmt.Errorf("storage: auto migrate: %w", err)
	}
	return &Store{db: db, logger: logger.With(map[string]interface{}{"component": "storage"})}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LogMessage appends one transcript line.
func (s *Store) LogMessage(ctx context.Context, sessionID string, role core.LLMMessageRole, text string) error {
	msg := Message{SessionID: sessionID, Role: string(role), Text: text}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("storage: log message: %w", err)
	}
	return nil
}

// Transcript returns a session's messages in the order they were logged.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("storage: transcript: %w", err)
	}
	return msgs, nil
}

// RecordStatus inserts or replaces the interview status of sessionID.
func (s *Store) RecordStatus(ctx context.Context, sessionID string, answered, total int) error {
	if sessionID == "" {
		return errors.New("storage: status without session id")
	}
	st := InterviewStatus{
		SessionID: sessionID,
		Answered:  answered,
		Total:     total,
		Complete:  total > 0 && answered >= total,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"answered", "total", "complete", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("storage: record status: %w", err)
	}
	return nil
}

func (s *Store) InterviewStatus(ctx context.Context, sessionID string) (*InterviewStatus, error) {
	var st InterviewStatus
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: interview status: %w", err)
	}
	return &st, nil
}

// SaveBiodata inserts or replaces the biodata of b.SessionID.
func (s *Store) SaveBiodata(ctx context.Context, b *Biodata) error {
	if b.SessionID == "" {
		return errors.New("storage: biodata without session id")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "hometown", "likes", "dream_city", "dislikes", "height", "missing", "complete", "updated_at"}),
	}).Create(b).Error
	if err != nil {
		return fmt.Errorf("storage: save biodata: %w", err)
	}
	s.logger.Info("biodata saved", "session_id", b.SessionID, "complete", b.Complete)
	return nil
}

func (s *Store) Biodata(ctx context.Context, sessionID string) (*Biodata, error) {
	var b Biodata
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: biodata: %w", err)
	}
	return &b, nil
}
