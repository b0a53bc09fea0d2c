package repository

import (
	"fmt"

	"gorm.io/gorm"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// NewStore picks the Store implementation for the configured driver.
// db may be nil for the memory driver.
func NewStore(driver string, db *gorm.DB) (Store, error) {
	switch driver {
	case DriverMySQL, "":
		if db == nil {
			return nil, fmt.Errorf("store driver %q requires a database connection", DriverMySQL)
		}
		return NewGormStore(db), nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
