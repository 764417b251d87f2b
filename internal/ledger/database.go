package ledger

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAsset looks up a registered asset on the given transaction. Returns
// (nil, nil) when the asset is not registered.
func (d *Database) GetAsset(tx *gorm.DB, assetID string) (*Asset, error) {
	var asset Asset
	if err := tx.Where("asset_id = ?", assetID).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &asset, nil
}

func (d *Database) CreateAsset(tx *gorm.DB, asset *Asset) error {
	return tx.Create(asset).Error
}

func (d *Database) UpdateAsset(tx *gorm.DB, asset *Asset) error {
	return tx.Save(asset).Error
}
