package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRecord struct {
	ID        string        `gorm:"primaryKey;size:36"`
	Username  string        `gorm:"uniqueIndex;not null"`
	Email     string        `gorm:"not null;default:''"`
	Timezone  string        `gorm:"not null;default:''"`
	Groups    []groupRecord `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

type groupRecord struct {
	UserID    string `gorm:"primaryKey;size:36"`
	GroupName string `gorm:"primaryKey"`
}

func (groupRecord) TableName() string { return "user_groups" }

// GORMDirectory stores users through GORM. It is used for the sqlite
// driver and works against postgres as well.
type GORMDirectory struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) a sqlite database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*GORMDirectory, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("directory: create database directory: %w", err)
		}
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return openGORM(sqlite.Open(path), true)
}

// OpenPostgres opens a GORM-backed directory on postgres.
func OpenPostgres(dsn string) (*GORMDirectory, error) {
	return openGORM(postgres.Open(dsn), false)
}

func openGORM(dialector gorm.Dialector, singleConn bool) (*GORMDirectory, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("directory: connect: %w", err)
	}

	if singleConn {
		// sqlite allows one writer; a single connection also keeps
		// ":memory:" databases from splitting across the pool.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("directory: underlying db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&userRecord{}, &groupRecord{}); err != nil {
		return nil, fmt.Errorf("directory: migrate: %w", err)
	}
	return &GORMDirectory{db: db}, nil
}

// Close releases the underlying connection pool.
func (d *GORMDirectory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *GORMDirectory) Lookup(ctx context.Context, username string) (*User, error) {
	var rec userRecord
	err := d.db.WithContext(ctx).
		Preload("Groups", func(tx *gorm.DB) *gorm.DB { return tx.Order("group_name") }).
		Where("username = ?", username).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: lookup %q: %w", username, err)
	}
	return rec.toUser(), nil
}

func (d *GORMDirectory) Create(ctx context.Context, username, email, timezone string) (*User, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}

	rec := userRecord{
		ID:       uuid.New().String(),
		Username: username,
		Email:    email,
		Timezone: timezone,
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("directory: create %q: %w", username, err)
	}

	u, err := d.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("directory: user %q vanished after create", username)
	}
	return u, nil
}

func (d *GORMDirectory) Update(ctx context.Context, u *User) error {
	res := d.db.WithContext(ctx).
		Model(&userRecord{}).
		Where("username = ?", u.Username).
		Updates(map[string]any{
			"email":      u.Email,
			"timezone":   u.Timezone,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("directory: update %q: %w", u.Username, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("directory: user %q not found", u.Username)
	}
	return nil
}

func (d *GORMDirectory) SetGroups(ctx context.Context, username string, groups []string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userRecord
		if err := tx.Where("username = ?", username).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("directory: user %q not found", username)
			}
			return fmt.Errorf("directory: set groups %q: %w", username, err)
		}

		if err := tx.Where("user_id = ?", rec.ID).Delete(&groupRecord{}).Error; err != nil {
			return fmt.Errorf("directory: set groups %q: %w", username, err)
		}

		normalized := normalizeGroups(groups)
		if len(normalized) > 0 {
			rows := make([]groupRecord, 0, len(normalized))
			for _, g := range normalized {
				rows = append(rows, groupRecord{UserID: rec.ID, GroupName: g})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("directory: set groups %q: %w", username, err)
			}
		}

		return tx.Model(&rec).Update("updated_at", time.Now().UTC()).Error
	})
}

func (r *userRecord) toUser() *User {
	u := &User{
		Username:  r.Username,
		Email:     r.Email,
		Timezone:  r.Timezone,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if id, err := uuid.Parse(r.ID); err == nil {
		u.ID = id
	}
	if len(r.Groups) > 0 {
		u.Groups = make([]string, 0, len(r.Groups))
		for _, g := range r.Groups {
			u.Groups = append(u.Groups, g.GroupName)
		}
	}
	return u
}
