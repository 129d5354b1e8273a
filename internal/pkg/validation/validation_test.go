package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
)

type account struct {
	Username string `json:"username" validate:"username"`
	Email    string `json:"email" validate:"required,email"`
	Status   string `json:"status" validate:"projectstatus"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name        string
		input       account
		wantMessage string
	}{
		{"valid", account{Username: "ada_lovelace", Email: "ada@example.com", Status: "active"}, ""},
		{"empty status allowed", account{Username: "ada-1", Email: "ada@example.com"}, ""},
		{"short username", account{Username: "ab", Email: "ab@example.com"}, "username must be 3-32 letters, digits, '-' or '_'"},
		{"username with space", account{Username: "no spaces", Email: "x@example.com"}, "username must be 3-32 letters, digits, '-' or '_'"},
		{"missing email", account{Username: "grace"}, "email is required"},
		{"bad email", account{Username: "grace", Email: "not-an-email"}, "email must be a valid email address"},
		{"bad status", account{Username: "grace", Email: "g@example.com", Status: "gone"}, "status must be one of planning, active, maintained, archived"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if tt.wantMessage == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, tt.wantMessage, domain.PublicMessage(err))
		})
	}
}
