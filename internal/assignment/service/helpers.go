package service

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	assignmentdomain "github.com/smallbiznis/cooptariff/internal/assignment/domain"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
)

const maxNameLength = 255

type patchFields struct {
	name     *string
	category *rateledger.Category
	method   *rateledger.CalculationMethod
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, assignmentdomain.ErrInvalidID
	}
	return id, nil
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", assignmentdomain.ErrInvalidName
	}
	return name, nil
}

func parseScope(raw string) (assignmentdomain.Scope, error) {
	switch scope := assignmentdomain.Scope(strings.ToLower(strings.TrimSpace(raw))); scope {
	case assignmentdomain.ScopeApartment, assignmentdomain.ScopeEntrance:
		return scope, nil
	default:
		return "", assignmentdomain.ErrInvalidScope
	}
}

// validateTarget enforces that the target matching the scope is set and the other is not.
func validateTarget(scope assignmentdomain.Scope, apartmentID *int64, entranceNumber *int) error {
	switch scope {
	case assignmentdomain.ScopeApartment:
		if apartmentID == nil || *apartmentID <= 0 || entranceNumber != nil {
			return assignmentdomain.ErrInvalidTarget
		}
	case assignmentdomain.ScopeEntrance:
		if entranceNumber == nil || *entranceNumber <= 0 || apartmentID != nil {
			return assignmentdomain.ErrInvalidTarget
		}
	default:
		return assignmentdomain.ErrInvalidScope
	}
	return nil
}

func validatePatch(patch assignmentdomain.AssignmentPatch) (patchFields, error) {
	var out patchFields
	if patch.Name != nil {
		name, err := normalizeName(*patch.Name)
		if err != nil {
			return out, err
		}
		out.name = &name
	}
	if patch.Category != nil {
		category, err := rateledger.ParseCategory(*patch.Category)
		if err != nil {
			return out, err
		}
		out.category = &category
	}
	if patch.CalculationMethod != nil {
		method, err := rateledger.ParseCalculationMethod(*patch.CalculationMethod)
		if err != nil {
			return out, err
		}
		out.method = &method
	}
	return out, nil
}

func indexOfTariff(ledger []assignmentdomain.AssignmentTariff, id snowflake.ID) int {
	for i := range ledger {
		if ledger[i].ID == id {
			return i
		}
	}
	return -1
}

func sortTariffs(ledger []assignmentdomain.AssignmentTariff) {
	sort.SliceStable(ledger, func(i, j int) bool {
		if ledger[i].StartDate.Equal(ledger[j].StartDate) {
			return ledger[i].ID < ledger[j].ID
		}
		return ledger[i].StartDate.Before(ledger[j].StartDate)
	})
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
