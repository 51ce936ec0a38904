package settings

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is a single persisted setting.
type Record struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName defines the table name for the Record model.
func (Record) TableName() string {
	return "settings"
}

// Repository defines persistence operations for user settings.
type Repository interface {
	Load(ctx context.Context) (map[Name]string, error)
	Save(ctx context.Context, name Name, value string) error
	Delete(ctx context.Context, name Name) error
}

// GormRepository persists settings using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

// Migrate applies the settings schema using Gorm's AutoMigrate and logs progress.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "settings.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Debug("applying settings schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("settings schema migration failed")
		}
		return eris.Wrap(err, "auto migrating settings schema")
	}

	return nil
}

// Load returns every persisted setting keyed by name.
func (r *GormRepository) Load(ctx context.Context) (map[Name]string, error) {
	var records []Record
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		r.logError(nil, err, "loading settings")
		return nil, eris.Wrap(err, "loading settings")
	}

	values := make(map[Name]string, len(records))
	for _, record := range records {
		values[Name(record.Name)] = record.Value
	}
	return values, nil
}

// Save upserts a single setting.
func (r *GormRepository) Save(ctx context.Context, name Name, value string) error {
	if name == "" {
		return eris.New("setting name is required")
	}

	record := Record{Name: string(name), Value: value}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		r.logError(logrus.Fields{"setting": name}, err, "saving setting")
		return eris.Wrapf(err, "saving setting: %s", name)
	}

	return nil
}

// Delete removes a setting. Deleting a missing setting is not an error.
func (r *GormRepository) Delete(ctx context.Context, name Name) error {
	if err := r.db.WithContext(ctx).Delete(&Record{}, "name = ?", string(name)).Error; err != nil {
		r.logError(logrus.Fields{"setting": name}, err, "deleting setting")
		return eris.Wrapf(err, "deleting setting: %s", name)
	}
	return nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
