package model

import "github.com/hemolink/donor-api/pkg/errors"

// BloodType is the closed ABO/Rh enum. Any value outside the eight
// constants is rejected at intake and never reaches the engine.
type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

// BloodTypes lists the eight valid values in a stable order.
var BloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg,
	BloodTypeBPos, BloodTypeBNeg,
	BloodTypeABPos, BloodTypeABNeg,
	BloodTypeOPos, BloodTypeONeg,
}

// compatibility encodes the standard donor→recipient ABO/Rh matrix:
// O- donates to all, AB+ receives from all, Rh- donors may give to Rh+
// recipients of the matching ABO group but never the reverse.
var compatibility = map[BloodType]map[BloodType]bool{
	BloodTypeONeg:  {BloodTypeONeg: true, BloodTypeOPos: true, BloodTypeANeg: true, BloodTypeAPos: true, BloodTypeBNeg: true, BloodTypeBPos: true, BloodTypeABNeg: true, BloodTypeABPos: true},
	BloodTypeOPos:  {BloodTypeOPos: true, BloodTypeAPos: true, BloodTypeBPos: true, BloodTypeABPos: true},
	BloodTypeANeg:  {BloodTypeANeg: true, BloodTypeAPos: true, BloodTypeABNeg: true, BloodTypeABPos: true},
	BloodTypeAPos:  {BloodTypeAPos: true, BloodTypeABPos: true},
	BloodTypeBNeg:  {BloodTypeBNeg: true, BloodTypeBPos: true, BloodTypeABNeg: true, BloodTypeABPos: true},
	BloodTypeBPos:  {BloodTypeBPos: true, BloodTypeABPos: true},
	BloodTypeABNeg: {BloodTypeABNeg: true, BloodTypeABPos: true},
	BloodTypeABPos: {BloodTypeABPos: true},
}

// ParseBloodType validates a caller-supplied blood type string.
func ParseBloodType(s string) (BloodType, error) {
	bt := BloodType(s)
	if _, ok := compatibility[bt]; !ok {
		return "", errors.NewValidation("invalid blood type", nil)
	}
	return bt, nil
}

// Valid reports whether bt is one of the eight enum values.
func (bt BloodType) Valid() bool {
	_, ok := compatibility[bt]
	return ok
}

// CanDonateTo reports whether blood of type bt may be transfused to a
// recipient of the given type. Both values must be valid; unknown values
// are never compatible with anything.
func (bt BloodType) CanDonateTo(recipient BloodType) bool {
	return compatibility[bt][recipient]
}

// CompatibleDonorTypes returns every donor type that may give to the
// recipient type, letting the store push the compatibility filter into
// the donor query.
func CompatibleDonorTypes(recipient BloodType) []BloodType {
	var donors []BloodType
	for _, bt := range BloodTypes {
		if bt.CanDonateTo(recipient) {
			donors = append(donors, bt)
		}
	}
	return donors
}
