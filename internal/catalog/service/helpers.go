package service

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
)

const (
	maxNameLength = 255
	maxCodeLength = 64
)

var codePattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

type patchFields struct {
	code     *string
	name     *string
	category *rateledger.Category
	method   *rateledger.CalculationMethod
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, catalogdomain.ErrInvalidID
	}
	return id, nil
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", catalogdomain.ErrInvalidName
	}
	return name, nil
}

// resolveCode validates an explicit code or derives one from the name,
// e.g. "Cold water" becomes "cold_water".
func resolveCode(raw, name string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		code = strings.ReplaceAll(slug.Make(name), "-", "_")
	}
	if code == "" || len(code) > maxCodeLength || !codePattern.MatchString(code) {
		return "", catalogdomain.ErrInvalidCode
	}
	return code, nil
}

func validatePatch(patch catalogdomain.ServicePatch) (patchFields, error) {
	var out patchFields
	if patch.Name != nil {
		name, err := normalizeName(*patch.Name)
		if err != nil {
			return out, err
		}
		out.name = &name
	}
	if patch.Code != nil {
		if strings.TrimSpace(*patch.Code) == "" {
			return out, catalogdomain.ErrInvalidCode
		}
		code, err := resolveCode(*patch.Code, "")
		if err != nil {
			return out, err
		}
		out.code = &code
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

func indexOfTariff(ledger []catalogdomain.Tariff, id snowflake.ID) int {
	for i := range ledger {
		if ledger[i].ID == id {
			return i
		}
	}
	return -1
}

func sortTariffs(ledger []catalogdomain.Tariff) {
	sort.SliceStable(ledger, func(i, j int) bool {
		if ledger[i].StartDate.Equal(ledger[j].StartDate) {
			return ledger[i].ID < ledger[j].ID
		}
		return ledger[i].StartDate.Before(ledger[j].StartDate)
	})
}
