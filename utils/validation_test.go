package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testInput struct {
	Name    string `json:"name" validate:"required,max=10"`
	Email   string `json:"email" validate:"required,email"`
	Version int64  `json:"expected_version" validate:"gte=0"`
	Note    string `validate:"max=3"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     testInput
		wantField string
		wantMsg   string
	}{
		{
			name:      "missing required field",
			input:     testInput{Email: "john@example.com"},
			wantField: "name",
			wantMsg:   "name is required",
		},
		{
			name:      "invalid email",
			input:     testInput{Name: "John", Email: "invalid-email"},
			wantField: "email",
			wantMsg:   "email must be a valid email",
		},
		{
			name:      "too long",
			input:     testInput{Name: "John Jacob Jingleheimer", Email: "john@example.com"},
			wantField: "name",
			wantMsg:   "name must be at most 10",
		},
		{
			name:      "negative number",
			input:     testInput{Name: "John", Email: "john@example.com", Version: -1},
			wantField: "expected_version",
			wantMsg:   "expected_version must be greater than or equal to 0",
		},
		{
			name:      "field without json tag keeps its Go name",
			input:     testInput{Name: "John", Email: "john@example.com", Note: "long"},
			wantField: "Note",
			wantMsg:   "Note must be at most 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.wantMsg, GetValidationFields(err)[tt.wantField])
		})
	}

	t.Run("valid struct", func(t *testing.T) {
		err := ValidateStruct(&testInput{Name: "John", Email: "john@example.com"})
		assert.NoError(t, err)
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields: map[string]string{
			"field1": "error1",
		},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{
			"field1": "error1",
			"field2": "error2",
		}
		err := &ValidationError{
			Message: "test",
			Fields:  fields,
		}

		assert.Equal(t, fields, GetValidationFields(err))
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
	})
}

func TestParseUUID(t *testing.T) {
	id := uuid.New()

	got, err := ParseUUID(" "+id.String()+" ", "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUID("nope", "role_id")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, "role_id must be a valid UUID", GetValidationFields(err)["role_id"])
}

func TestNewFieldError(t *testing.T) {
	err := NewFieldError("limit", "must be between 1 and 1000")

	assert.True(t, IsValidationError(err))
	assert.Equal(t, "Validation failed", err.Error())
	assert.Equal(t, map[string]string{"limit": "limit must be between 1 and 1000"}, GetValidationFields(err))
}
