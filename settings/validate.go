package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/repository"
)

// Validation is the health report for stored settings.
type Validation struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

func (v *Validation) add(issue, recommendation string) {
	v.Issues = append(v.Issues, issue)
	v.Recommendations = append(v.Recommendations, recommendation)
}

// Validate checks that every rate billing depends on is positive.
func Validate(s dorm.Settings) Validation {
	v := Validation{Issues: []string{}, Recommendations: []string{}}
	if !s.DepositRate.IsPositive() {
		v.add("Invalid deposit rate (monthly rent)", "Set a valid deposit rate greater than 0")
	}
	if !s.WaterRate.IsPositive() {
		v.add("Invalid water rate", "Set a valid water rate greater than 0")
	}
	if !s.ElectricityRate.IsPositive() {
		v.add("Invalid electricity rate", "Set a valid electricity rate greater than 0")
	}
	v.IsValid = len(v.Issues) == 0
	return v
}

// ValidateStored checks the stored settings: presence, rates and the number
// of rows. Storage errors are reported as an issue, not returned.
func ValidateStored(ctx context.Context, repo *repository.Repository) Validation {
	s, err := repo.LatestSettings(ctx)
	switch {
	case errors.Is(err, dorm.ErrSettingsNotFound):
		v := Validation{Issues: []string{}, Recommendations: []string{}}
		v.add("No system settings found in database", "Create initial system settings record")
		return v
	case err != nil:
		return Validation{Issues: []string{"Database error: " + err.Error()}, Recommendations: []string{}}
	}

	v := Validate(s)
	n, err := repo.CountSettings(ctx)
	if err != nil {
		v.Issues = append(v.Issues, "Database error: "+err.Error())
	} else if n > 1 {
		v.add(fmt.Sprintf("Multiple system settings records found (%d)", n), "Keep only the latest system settings record")
	}
	v.IsValid = len(v.Issues) == 0
	return v
}
