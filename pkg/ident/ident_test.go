package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expectErr bool
	}{
		{name: "simple lowercase", input: "customers", expectErr: false},
		{name: "leading underscore", input: "_internal", expectErr: false},
		{name: "mixed case with digits", input: "Order2023_v2", expectErr: false},
		{name: "single letter", input: "x", expectErr: false},
		{name: "max length", input: strings.Repeat("a", MaxLength), expectErr: false},
		{name: "empty", input: "", expectErr: true},
		{name: "over length", input: strings.Repeat("a", MaxLength+1), expectErr: true},
		{name: "leading digit", input: "1table", expectErr: true},
		{name: "embedded space", input: "my table", expectErr: true},
		{name: "semicolon injection", input: "t; DROP TABLE t", expectErr: true},
		{name: "quote injection", input: `t"ble`, expectErr: true},
		{name: "dash", input: "my-table", expectErr: true},
		{name: "dot qualified", input: "public.users", expectErr: true},
		{name: "comment marker", input: "t--", expectErr: true},
		{name: "unicode", input: "tablé", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input, "table")
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ErrorNamesContext(t *testing.T) {
	err := Validate("bad name", "entity_id column")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_id column")

	var identErr *Error
	require.ErrorAs(t, err, &identErr)
	assert.Equal(t, "bad name", identErr.Name)
}

func TestValidate_EmptyContextDefaults(t *testing.T) {
	err := Validate("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifier")
}

func TestValidateAll(t *testing.T) {
	err := ValidateAll(
		[2]string{"public", "schema"},
		[2]string{"orders", "table"},
		[2]string{"bad col", "column"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column")

	assert.NoError(t, ValidateAll(
		[2]string{"public", "schema"},
		[2]string{"orders", "table"},
	))
}
