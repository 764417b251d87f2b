package ledger

import (
	"gorm.io/gorm"
)

// Asset is a registered token. SumLocked is the aggregate input currently
// locked across open orders; the custodial balance held by the transfer
// subsystem must always be at least this much.
type Asset struct {
	gorm.Model
	AssetID     string `gorm:"uniqueIndex" json:"asset_id"`
	ContractRef string `json:"contract_ref"`
	SumLocked   uint64 `json:"sum_locked"`
}
