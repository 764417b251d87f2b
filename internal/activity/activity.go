package activity

import (
	"gorm.io/gorm"
)

// Service appends and pages the audit trail.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// Append writes one record inside the caller's transaction, assigning the
// next sequence number for the actor and kind.
func (s *Service) Append(tx *gorm.DB, record *Record) error {
	seq, err := s.db.CountRecords(tx, record.Actor, record.Kind)
	if err != nil {
		return err
	}
	record.Sequence = uint64(seq)
	return tx.Create(record).Error
}

// Paginate reads backward from the highest sequence, skipping
// page*pageSize records. An out-of-range page yields an empty result.
func (s *Service) Paginate(actor, kind string, page, pageSize int) ([]Record, int64, error) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return s.db.GetRecords(actor, kind, page, pageSize)
}
