package chain

import (
	"gorm.io/gorm"
)

// Height is the single-row logical clock. The outer host advances it once
// per dispatch cycle; every operation inside one cycle observes the same
// height, which is what bounds when an execution fee may still be posted.
type Height struct {
	gorm.Model
	Current uint64
}

// Current returns the current logical height, creating the row at zero the
// first time it is read.
func Current(tx *gorm.DB) (uint64, error) {
	var h Height
	if err := tx.FirstOrCreate(&h, Height{}).Error; err != nil {
		return 0, err
	}
	return h.Current, nil
}

// Advance bumps the logical height by one and returns the new value.
func Advance(tx *gorm.DB) (uint64, error) {
	var h Height
	if err := tx.FirstOrCreate(&h, Height{}).Error; err != nil {
		return 0, err
	}
	h.Current++
	if err := tx.Save(&h).Error; err != nil {
		return 0, err
	}
	return h.Current, nil
}
