package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUserName(t *testing.T) {
	assert.True(t, ValidateUserName("alice"))
	assert.True(t, ValidateUserName("raid.lead_01"))
	assert.False(t, ValidateUserName("al"))
	assert.False(t, ValidateUserName("has space"))
	assert.False(t, ValidateUserName(strings.Repeat("a", MaxUserNameLength+1)))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("a@example.com"))
	assert.False(t, ValidateEmail("a@example"))
	assert.False(t, ValidateEmail("not-an-email"))
}

func TestPasswordHashing(t *testing.T) {
	assert.False(t, ValidatePassword("12345"))
	assert.True(t, ValidatePassword("123456"))

	hash, err := HashPassword("hunter22")
	assert.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}

func TestNormalizeGroupName(t *testing.T) {
	name, ok := NormalizeGroupName("  Raid Night  ")
	assert.True(t, ok)
	assert.Equal(t, "Raid Night", name)

	_, ok = NormalizeGroupName("  ab ")
	assert.False(t, ok, "length is measured after trimming")

	_, ok = NormalizeGroupName("äöü")
	assert.True(t, ok, "length counts characters, not bytes")

	_, ok = NormalizeGroupName(strings.Repeat("ß", MaxGroupNameLength))
	assert.True(t, ok, "fits the name column")

	_, ok = NormalizeGroupName(strings.Repeat("a", MaxGroupNameLength+1))
	assert.False(t, ok)
}

func TestNormalizeMessage(t *testing.T) {
	_, ok := NormalizeMessage("   \n\t")
	assert.False(t, ok)

	content, ok := NormalizeMessage(" hi ")
	assert.True(t, ok)
	assert.Equal(t, "hi", content)

	_, ok = NormalizeMessage(strings.Repeat("é", MaxMessageLength))
	assert.True(t, ok)
	_, ok = NormalizeMessage(strings.Repeat("a", MaxMessageLength+1))
	assert.False(t, ok)
}
