package validation

import (
	"testing"

	"pharmacy-market/internal/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Brand string          `json:"brand" validate:"required,alphaspace"`
	Phone string          `json:"phone" validate:"phone"`
	Role  domain.Role     `json:"role" validate:"role"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
}

func validSample() sample {
	return sample{Brand: "Bayer Vital", Phone: "+359888000111", Role: domain.RoleSeller, Price: decimal.RequireFromString("0.01")}
}

func TestCustomTags(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		mutate func(*sample)
		field  string
	}{
		{"valid", func(*sample) {}, ""},
		{"digits in brand", func(s *sample) { s.Brand = "Bayer 2" }, "brand"},
		{"blank brand", func(s *sample) { s.Brand = "   " }, "brand"},
		{"short phone", func(s *sample) { s.Phone = "12345" }, "phone"},
		{"phone with letters", func(s *sample) { s.Phone = "+35988ABC111" }, "phone"},
		{"unknown role", func(s *sample) { s.Role = "guest" }, "role"},
		{"negative price", func(s *sample) { s.Price = decimal.RequireFromString("-0.01") }, "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample()
			tt.mutate(&s)
			err := ToDomain(v.Struct(s))
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verrs domain.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestProperty_AlphaSpaceAcceptsLetterWords(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("letters joined by spaces pass", prop.ForAll(
		func(a, b string) bool {
			return IsAlphaSpace(a + " " + b)
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString(),
	))
	properties.Property("any digit fails", prop.ForAll(
		func(a string, d rune) bool {
			return !IsAlphaSpace(a + string(d))
		},
		gen.AlphaString(),
		gen.NumChar(),
	))

	properties.TestingRun(t)
}

func TestMessages(t *testing.T) {
	v := New()
	s := validSample()
	s.Role = "root"

	var verrs domain.ValidationErrors
	require.ErrorAs(t, ToDomain(v.Struct(s)), &verrs)
	assert.Equal(t, "This role is not valid", verrs[0].Message)
}
