package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/referral-api/pkg/errors"
)

type position struct {
	Latitude  float64  `validate:"lat"`
	Longitude float64  `validate:"lng"`
	Heading   *float64 `validate:"omitempty,heading"`
	Speed     float64  `validate:"gte=0"`
}

func TestCoordinateRules(t *testing.T) {
	v := New()
	heading := 370.0
	okHeading := 360.0

	tests := []struct {
		name    string
		input   position
		wantErr string
	}{
		{"valid", position{Latitude: -90, Longitude: 180, Heading: &okHeading}, ""},
		{"latitude too high", position{Latitude: 90.5}, "latitude must be a latitude"},
		{"longitude too low", position{Longitude: -180.1}, "longitude must be a longitude"},
		{"heading out of range", position{Heading: &heading}, "heading must be a heading"},
		{"negative speed", position{Speed: -1}, "speed must be at least 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
			assert.True(t, errors.Is(err, errors.ErrValidation))
		})
	}
}

func TestValidateField(t *testing.T) {
	v := New()
	assert.NoError(t, v.ValidateField("duration", 30, "min=5,max=480"))
	assert.Error(t, v.ValidateField("duration", 500, "min=5,max=480"))
}
