package route

import (
	"errors"
	"fmt"

	"github.com/ksred/atomex-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRoute(tx *gorm.DB, route *Route) error {
	return tx.Create(route).Error
}

func (d *Database) GetRoute(tx *gorm.DB, routeID string) (*Route, error) {
	var route Route
	if err := tx.Where("route_id = ?", routeID).First(&route).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no route %s: %w", routeID, types.ErrInvalidState)
		}
		return nil, err
	}
	return &route, nil
}

func (d *Database) UpdateRoute(tx *gorm.DB, route *Route) error {
	return tx.Save(route).Error
}

func (d *Database) DeleteRoute(tx *gorm.DB, route *Route) error {
	return tx.Unscoped().Delete(route).Error
}

func (d *Database) ListRoutes() ([]Route, error) {
	var routes []Route
	if err := d.db.Order("id ASC").Find(&routes).Error; err != nil {
		return nil, err
	}
	return routes, nil
}
