package dxf

// codes.go - DXF group-code value classes and validation

import (
	"fmt"
	"strconv"
)

// valueClass is the expected value type for a group-code range, per the DXF
// reference's group-code-value-types table.
type valueClass int

const (
	classString valueClass = iota
	classFloat
	classInt
	classBool
)

// classForCode maps a group code to its value class. Codes outside every
// known range default to string, which accepts anything: unknown codes are
// carried, not rejected.
func classForCode(code int) valueClass {
	switch {
	case code >= 0 && code <= 9:
		return classString
	case code >= 10 && code <= 59:
		return classFloat
	case code >= 60 && code <= 79:
		return classInt
	case code >= 90 && code <= 99:
		return classInt
	case code >= 100 && code <= 109:
		return classString
	case code >= 110 && code <= 149:
		return classFloat
	case code >= 160 && code <= 179:
		return classInt
	case code >= 210 && code <= 239:
		return classFloat
	case code >= 270 && code <= 289:
		return classInt
	case code >= 290 && code <= 299:
		return classBool
	case code >= 300 && code <= 369:
		return classString
	case code >= 370 && code <= 389:
		return classInt
	case code >= 390 && code <= 399:
		return classString
	case code >= 400 && code <= 409:
		return classInt
	case code >= 410 && code <= 419:
		return classString
	case code >= 420 && code <= 429:
		return classInt
	case code >= 430 && code <= 439:
		return classString
	case code >= 440 && code <= 459:
		return classInt
	case code >= 460 && code <= 469:
		return classFloat
	case code >= 470 && code <= 481:
		return classString
	case code == 999:
		return classString
	case code >= 1000 && code <= 1009:
		return classString
	case code >= 1010 && code <= 1059:
		return classFloat
	case code >= 1060 && code <= 1071:
		return classInt
	default:
		return classString
	}
}

// validateValue checks a raw value against its group code's class. A
// violation is a per-entity condition: the caller skips the entity and emits
// a Warning, it never aborts the file.
func validateValue(code int, raw string) error {
	switch classForCode(code) {
	case classFloat:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return fmt.Errorf("group code %d expects a float, got %q", code, raw)
		}
	case classInt:
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("group code %d expects an integer, got %q", code, raw)
		}
	case classBool:
		if raw != "0" && raw != "1" {
			return fmt.Errorf("group code %d expects a boolean 0/1, got %q", code, raw)
		}
	}
	return nil
}
