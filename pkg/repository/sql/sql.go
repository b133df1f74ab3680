// Package sql implements a repository.Connector on a relational database
// through GORM, using the SQLite driver.
//
// Entities of every table live in a single "entities" table with a composite
// primary key (collection, company_id, id) and the JSON document in a text
// column. Filters on entity fields are pushed down with SQLite's JSON1
// functions, and compare-and-set is a single conditional UPDATE.
package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var fieldName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Config contains configuration for the SQL connector.
type Config struct {
	// DSN is the SQLite data source name, e.g. "/var/lib/dittodrive/drive.db".
	DSN string `mapstructure:"dsn" validate:"required"`

	// MaxOpenConns limits the connection pool. Default: 1, which serializes
	// writers the way SQLite requires.
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

type entityRow struct {
	Collection string `gorm:"primaryKey;size:64"`
	CompanyID  string `gorm:"primaryKey;size:128"`
	ID         string `gorm:"primaryKey;size:128"`
	Data       string `gorm:"type:text;not null"`
}

func (entityRow) TableName() string {
	return "entities"
}

// Connector is a repository.Connector backed by GORM.
type Connector struct {
	db *gorm.DB
}

// New opens the database and migrates the entities table.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", cfg.DSN, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	if err := db.WithContext(ctx).AutoMigrate(&entityRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate entities table: %w", err)
	}

	logger.Debug("SQL repository opened (dsn=%q)", cfg.DSN)
	return &Connector{db: db}, nil
}

// where applies a field equality constraint on the JSON document.
func where(tx *gorm.DB, field string, value any) (*gorm.DB, error) {
	switch field {
	case repository.FieldCompanyID:
		return tx.Where("company_id = ?", value), nil
	case repository.FieldID:
		return tx.Where("id = ?", value), nil
	}

	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("unsupported filter field %q", field)
	}
	path := "$." + field

	switch v := value.(type) {
	case nil:
		return tx.Where("json_extract(data, ?) IS NULL", path), nil
	case bool:
		// JSON1 reports booleans as integers.
		n := 0
		if v {
			n = 1
		}
		return tx.Where("json_type(data, ?) IN ('true','false') AND json_extract(data, ?) = ?", path, path, n), nil
	case string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return tx.Where("json_extract(data, ?) = ?", path, v), nil
	default:
		return nil, fmt.Errorf("unsupported filter value type %T for field %q", value, field)
	}
}

// Find implements repository.Connector.
func (c *Connector) Find(ctx context.Context, table string, filter repository.Filter, opts repository.FindOptions) (repository.RawPage, error) {
	if err := filter.Validate(); err != nil {
		return repository.RawPage{}, err
	}
	offset, err := repository.PageOffset(opts.PageToken)
	if err != nil {
		return repository.RawPage{}, err
	}

	tx := c.db.WithContext(ctx).Model(&entityRow{}).Where("collection = ?", table)
	for field, value := range filter {
		if tx, err = where(tx, field, value); err != nil {
			return repository.RawPage{}, err
		}
	}
	tx = tx.Order("id").Offset(offset)
	if opts.Limit > 0 {
		tx = tx.Limit(opts.Limit + 1)
	}

	var rows []entityRow
	if err := tx.Find(&rows).Error; err != nil {
		return repository.RawPage{}, fmt.Errorf("sql find on %s: %w", table, err)
	}

	more := opts.Limit > 0 && len(rows) > opts.Limit
	if more {
		rows = rows[:opts.Limit]
	}

	page := repository.RawPage{Documents: make([][]byte, 0, len(rows))}
	for _, row := range rows {
		page.Documents = append(page.Documents, []byte(row.Data))
	}
	page.NextPage = repository.NextPageToken(offset, len(rows), opts.Limit, more)
	return page, nil
}

// Save implements repository.Connector.
func (c *Connector) Save(ctx context.Context, table, companyID, id string, data []byte) error {
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	row := entityRow{Collection: table, CompanyID: companyID, ID: id, Data: string(data)}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sql save %s/%s: %w", table, id, err)
	}
	return nil
}

// Remove implements repository.Connector.
func (c *Connector) Remove(ctx context.Context, table, companyID, id string) error {
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	res := c.db.WithContext(ctx).
		Where("collection = ? AND company_id = ? AND id = ?", table, companyID, id).
		Delete(&entityRow{})
	if res.Error != nil {
		return fmt.Errorf("sql remove %s/%s: %w", table, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AtomicCompareAndSet implements repository.Connector with one conditional
// UPDATE statement.
func (c *Connector) AtomicCompareAndSet(ctx context.Context, table, companyID, id, field string, previous, next any) (bool, error) {
	if companyID == "" {
		return false, repository.ErrMissingCompany
	}
	if !fieldName.MatchString(field) {
		return false, fmt.Errorf("unsupported field %q", field)
	}

	nextJSON, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("failed to encode value for %s: %w", field, err)
	}

	tx := c.db.WithContext(ctx).Model(&entityRow{}).
		Where("collection = ? AND company_id = ? AND id = ?", table, companyID, id)
	if tx, err = where(tx, field, previous); err != nil {
		return false, err
	}

	res := tx.Update("data", gorm.Expr("json_set(data, ?, json(?))", "$."+field, string(nextJSON)))
	if res.Error != nil {
		return false, fmt.Errorf("sql compare-and-set %s/%s: %w", table, id, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var row entityRow
	err = c.db.WithContext(ctx).
		Where("collection = ? AND company_id = ? AND id = ?", table, companyID, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, repository.ErrNotFound
	}
	return false, err
}

// Close implements repository.Connector.
func (c *Connector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
