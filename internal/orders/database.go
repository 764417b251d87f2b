package orders

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

// NextPositions returns the next sequence number in the creator's namespace
// and in the operator's book.
func (d *Database) NextPositions(tx *gorm.DB, creator string) (uint64, uint64, error) {
	var creatorCount, bookCount int64
	if err := tx.Model(&Order{}).Where("creator = ?", creator).Count(&creatorCount).Error; err != nil {
		return 0, 0, err
	}
	if err := tx.Model(&Order{}).Count(&bookCount).Error; err != nil {
		return 0, 0, err
	}
	return uint64(creatorCount), uint64(bookCount), nil
}

func (d *Database) CreateOrder(tx *gorm.DB, order *Order) error {
	return tx.Create(order).Error
}

func (d *Database) UpdateOrder(tx *gorm.DB, order *Order) error {
	return tx.Save(order).Error
}

func (d *Database) GetByBookPosition(tx *gorm.DB, position uint64) (*Order, error) {
	var order Order
	if err := tx.Where("book_position = ?", position).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no order at book position %d: %w", position, types.ErrNotFound)
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetByCreatorPosition(tx *gorm.DB, creator string, position uint64) (*Order, error) {
	var order Order
	if err := tx.Where("creator = ? AND creator_position = ?", creator, position).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no order at position %d for %s: %w", position, creator, types.ErrNotFound)
		}
		return nil, err
	}
	return &order, nil
}

// PaginateCreator reads a creator's orders backward from the highest
// position, skipping page*pageSize.
func (d *Database) PaginateCreator(creator string, page, pageSize int) ([]Order, int64, error) {
	var total int64
	if err := d.db.Model(&Order{}).Where("creator = ?", creator).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Order
	err := d.db.Where("creator = ?", creator).
		Order("creator_position DESC").
		Offset(page * pageSize).
		Limit(pageSize).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// PaginateBook reads the operator's book backward from the highest position.
func (d *Database) PaginateBook(page, pageSize int) ([]Order, int64, error) {
	var total int64
	if err := d.db.Model(&Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []Order
	err := d.db.Order("book_position DESC").
		Offset(page * pageSize).
		Limit(pageSize).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
