package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ksred/atomex-api/internal/types"
	"gorm.io/gorm"
)

// Policy is the version-stamped authorization record: who administers the
// system, the identity the system uses when calling itself, and the
// allow-list of callers permitted to fill orders and begin routes. A new row
// with a bumped version is written on every change; the highest version wins.
type Policy struct {
	gorm.Model
	Version uint64 `json:"version"`
	Admin   string `json:"admin"`
	Self    string `json:"self"`
	Fillers string `json:"fillers"` // comma separated identities
}

// FillerList returns the allow-list as a slice.
func (p *Policy) FillerList() []string {
	if p.Fillers == "" {
		return nil
	}
	return strings.Split(p.Fillers, ",")
}

// AllowedToFill reports whether the caller may fill orders or begin routes.
func (p *Policy) AllowedToFill(caller string) bool {
	for _, f := range p.FillerList() {
		if f == caller {
			return true
		}
	}
	return false
}

// PolicyStore loads and updates the policy record.
type PolicyStore struct {
	db *gorm.DB
}

func NewPolicyStore(db *gorm.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// Ensure seeds the initial policy if none exists. Self and admin are always
// on the filler allow-list, matching the behavior on every later update.
func (s *PolicyStore) Ensure(admin, self string, fillers []string) (*Policy, error) {
	var p Policy
	err := s.db.Order("version DESC").First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	p = Policy{
		Version: 1,
		Admin:   admin,
		Self:    self,
		Fillers: strings.Join(withRequired(fillers, self, admin), ","),
	}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Load returns the current policy.
func (s *PolicyStore) Load(tx *gorm.DB) (*Policy, error) {
	var p Policy
	if err := tx.Order("version DESC").First(&p).Error; err != nil {
		return nil, fmt.Errorf("policy not initialized: %w", types.ErrInvalidState)
	}
	return &p, nil
}

// UpdateFillers replaces the allow-list, admin only. The service itself and
// the admin are re-added if missing so an errant update cannot lock the
// system out of its own routes.
func (s *PolicyStore) UpdateFillers(caller string, fillers []string) (*Policy, error) {
	current, err := s.Load(s.db)
	if err != nil {
		return nil, err
	}
	if caller != current.Admin {
		return nil, fmt.Errorf("only the admin may update the allow-list: %w", types.ErrUnauthorized)
	}

	next := Policy{
		Version: current.Version + 1,
		Admin:   current.Admin,
		Self:    current.Self,
		Fillers: strings.Join(withRequired(fillers, current.Self, current.Admin), ","),
	}
	if err := s.db.Create(&next).Error; err != nil {
		return nil, err
	}
	return &next, nil
}

func withRequired(fillers []string, required ...string) []string {
	out := append([]string{}, fillers...)
	for _, r := range required {
		found := false
		for _, f := range out {
			if f == r {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}
