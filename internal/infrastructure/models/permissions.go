package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Permissions is a text[] column on Postgres. Other dialects keep the same
// array literal in a text column.
type Permissions []string

func (p Permissions) Value() (driver.Value, error) {
	return pq.StringArray(p).Value()
}

func (p *Permissions) Scan(src interface{}) error {
	return (*pq.StringArray)(p).Scan(src)
}

func (Permissions) GormDataType() string {
	return "text"
}

func (Permissions) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
