package database

import (
	"github.com/ksred/atomex-api/internal/activity"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/chain"
	"github.com/ksred/atomex-api/internal/ledger"
	"github.com/ksred/atomex-api/internal/orders"
	"github.com/ksred/atomex-api/internal/route"
	"github.com/ksred/atomex-api/internal/transfer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&chain.Height{},
		&auth.Policy{},
		&ledger.Asset{},
		&orders.Order{},
		&activity.Record{},
		&route.Route{},
		&transfer.Instruction{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
