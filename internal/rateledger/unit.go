package rateledger

import "strings"

type Unit string

const (
	UnitSquareMeter Unit = "m2"
	UnitGcal        Unit = "gcal"
	UnitCubicMeter  Unit = "m3"
	UnitKWh         Unit = "kwh"
	UnitFixed       Unit = "fixed"
)

type CalculationMethod string

const (
	MethodFixed CalculationMethod = "fixed"
	MethodMeter CalculationMethod = "meter"
	MethodArea  CalculationMethod = "area"
)

type Category string

const (
	CategoryMain       Category = "main"
	CategoryUtility    Category = "utility"
	CategoryAdditional Category = "additional"
	CategoryOther      Category = "other"
)

// DefaultUnit is the unit a freshly seeded or carried-forward tariff gets for a calculation method.
func DefaultUnit(method CalculationMethod) Unit {
	switch method {
	case MethodFixed:
		return UnitFixed
	case MethodMeter:
		return UnitCubicMeter
	case MethodArea:
		return UnitSquareMeter
	default:
		return UnitFixed
	}
}

func ParseUnit(raw string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(raw))); u {
	case UnitSquareMeter, UnitGcal, UnitCubicMeter, UnitKWh, UnitFixed:
		return u, nil
	default:
		return "", ErrInvalidUnit
	}
}

func ParseCalculationMethod(raw string) (CalculationMethod, error) {
	switch m := CalculationMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodFixed, MethodMeter, MethodArea:
		return m, nil
	default:
		return "", ErrInvalidMethod
	}
}

func ParseCategory(raw string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryMain, CategoryUtility, CategoryAdditional, CategoryOther:
		return c, nil
	default:
		return "", ErrInvalidCategory
	}
}
