package activity

import (
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CountRecords(tx *gorm.DB, actor, kind string) (int64, error) {
	var count int64
	err := tx.Model(&Record{}).Where("actor = ? AND kind = ?", actor, kind).Count(&count).Error
	return count, err
}

func (d *Database) GetRecords(actor, kind string, page, pageSize int) ([]Record, int64, error) {
	var total int64
	q := d.db.Model(&Record{}).Where("actor = ? AND kind = ?", actor, kind)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []Record
	err := d.db.Where("actor = ? AND kind = ?", actor, kind).
		Order("sequence DESC").
		Offset(page * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
