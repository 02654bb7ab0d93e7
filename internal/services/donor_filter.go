package services

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// DonorFilter is the typed form of the donor search query. Nil fields do not filter.
type DonorFilter struct {
	City          *string
	BloodGroup    *models.BloodGroup
	Availability  *bool
	IsEligible    *bool
	FavoritesOnly bool
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DonorFilterScope maps f onto a query scope. favoriteIDs is consulted only when
// f.FavoritesOnly is set; an empty set then matches nothing. now anchors the
// eligibility cutoff.
func DonorFilterScope(f DonorFilter, favoriteIDs []uint, now time.Time) storage.Scope {
	return func(db *gorm.DB) *gorm.DB {
		if f.City != nil && strings.TrimSpace(*f.City) != "" {
			pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(*f.City))) + "%"
			db = db.Where(`LOWER(city) LIKE ? ESCAPE '\'`, pattern)
		}
		if f.BloodGroup != nil {
			db = db.Where("blood_group = ?", *f.BloodGroup)
		}
		if f.Availability != nil {
			db = db.Where("availability = ?", *f.Availability)
		}
		if f.IsEligible != nil {
			cutoff := now.Add(-models.DonationCooldown)
			if *f.IsEligible {
				db = db.Where("last_donation_date IS NULL OR last_donation_date <= ?", cutoff)
			} else {
				db = db.Where("last_donation_date > ?", cutoff)
			}
		}
		if f.FavoritesOnly {
			if len(favoriteIDs) == 0 {
				db = db.Where("1 = 0")
			} else {
				db = db.Where("id IN ?", favoriteIDs)
			}
		}
		return db
	}
}
