package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookingInput struct {
	PatientID string   `json:"patientId" validate:"required,min=6"`
	DateISO   string   `json:"dateISO" validate:"required,dateiso"`
	Times     []string `json:"timeSlots" validate:"min=1,max=12,distinct_times,dive,required"`
}

func TestValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		in      bookingInput
		wantErr string
	}{
		{"valid", bookingInput{"patient-1", "2025-03-10", []string{"09:30", "10:00"}}, ""},
		{"short patient", bookingInput{"p1", "2025-03-10", []string{"09:30"}}, "patientId must be at least 6"},
		{"datetime", bookingInput{"patient-1", "2025-03-10T09:30", []string{"09:30"}}, "dateISO must be 'YYYY-MM-DD'"},
		{"no month padding", bookingInput{"patient-1", "2025-3-10", []string{"09:30"}}, "dateISO"},
		{"duplicate times", bookingInput{"patient-1", "2025-03-10", []string{"09:30", "09:30"}}, "timeSlots must not repeat"},
		{"empty times", bookingInput{"patient-1", "2025-03-10", nil}, "timeSlots must have at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(&tt.in)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateStructNil(t *testing.T) {
	assert.Error(t, New().ValidateStruct(nil))
}
