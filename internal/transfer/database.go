package transfer

import (
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetPendingInstructions() ([]Instruction, error) {
	var instructions []Instruction
	if err := d.db.Where("status = ?", StatusPending).Order("id ASC").Find(&instructions).Error; err != nil {
		return nil, err
	}
	return instructions, nil
}

func (d *Database) UpdateInstruction(instr *Instruction) error {
	return d.db.Save(instr).Error
}
