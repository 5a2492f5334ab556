package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// recipientsByDonor is the full ABO/Rh matrix as published by blood
// banks, written out so a typo in the production table cannot hide.
var recipientsByDonor = map[BloodType][]BloodType{
	BloodTypeONeg:  {BloodTypeONeg, BloodTypeOPos, BloodTypeANeg, BloodTypeAPos, BloodTypeBNeg, BloodTypeBPos, BloodTypeABNeg, BloodTypeABPos},
	BloodTypeOPos:  {BloodTypeOPos, BloodTypeAPos, BloodTypeBPos, BloodTypeABPos},
	BloodTypeANeg:  {BloodTypeANeg, BloodTypeAPos, BloodTypeABNeg, BloodTypeABPos},
	BloodTypeAPos:  {BloodTypeAPos, BloodTypeABPos},
	BloodTypeBNeg:  {BloodTypeBNeg, BloodTypeBPos, BloodTypeABNeg, BloodTypeABPos},
	BloodTypeBPos:  {BloodTypeBPos, BloodTypeABPos},
	BloodTypeABNeg: {BloodTypeABNeg, BloodTypeABPos},
	BloodTypeABPos: {BloodTypeABPos},
}

func TestCanDonateToFullMatrix(t *testing.T) {
	for donor, recipients := range recipientsByDonor {
		allowed := make(map[BloodType]bool, len(recipients))
		for _, r := range recipients {
			allowed[r] = true
		}
		for _, recipient := range BloodTypes {
			assert.Equal(t, allowed[recipient], donor.CanDonateTo(recipient),
				"donor %s -> recipient %s", donor, recipient)
		}
	}
}

func TestUniversalDonorAndRecipient(t *testing.T) {
	for _, recipient := range BloodTypes {
		assert.True(t, BloodTypeONeg.CanDonateTo(recipient), "O- should donate to %s", recipient)
	}
	for _, donor := range BloodTypes {
		assert.True(t, donor.CanDonateTo(BloodTypeABPos), "%s should donate to AB+", donor)
	}
}

func TestCompatibleDonorTypes(t *testing.T) {
	donors := CompatibleDonorTypes(BloodTypeONeg)
	assert.Equal(t, []BloodType{BloodTypeONeg}, donors)

	donors = CompatibleDonorTypes(BloodTypeABPos)
	assert.Len(t, donors, 8)

	donors = CompatibleDonorTypes(BloodTypeAPos)
	assert.ElementsMatch(t, []BloodType{BloodTypeAPos, BloodTypeANeg, BloodTypeOPos, BloodTypeONeg}, donors)
}

func TestParseBloodType(t *testing.T) {
	for _, bt := range BloodTypes {
		parsed, err := ParseBloodType(string(bt))
		assert.NoError(t, err)
		assert.Equal(t, bt, parsed)
	}

	for _, invalid := range []string{"", "AB", "O", "C+", "a+", "O+ ", "AB-+"} {
		_, err := ParseBloodType(invalid)
		assert.Error(t, err, "expected %q to be rejected", invalid)
	}
}

func TestCanDonateToUnknownValues(t *testing.T) {
	assert.False(t, BloodType("X+").CanDonateTo(BloodTypeABPos))
	assert.False(t, BloodTypeONeg.CanDonateTo(BloodType("X+")))
}
