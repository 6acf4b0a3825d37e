package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "sarah@x.com", Normalize("Sarah@X.com"))
	assert.Equal(t, "sarah@x.com", Normalize("  sarah@x.com "))
	assert.Equal(t, "", Normalize("   "))
}

func TestDeriveNameFromEmail(t *testing.T) {
	t.Run("dotted local part", func(t *testing.T) {
		first, last := DeriveNameFromEmail("jane.doe@example.com")
		assert.Equal(t, "Jane", first)
		assert.Equal(t, "Doe", last)
	})

	t.Run("single token", func(t *testing.T) {
		first, last := DeriveNameFromEmail("sarah@x.com")
		assert.Equal(t, "Sarah", first)
		assert.Equal(t, "User", last)
	})

	t.Run("empty local part", func(t *testing.T) {
		first, last := DeriveNameFromEmail("@x.com")
		assert.Equal(t, "User", first)
		assert.Equal(t, "User", last)
	})
}
