package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowList_ContainsAnyFormatting(t *testing.T) {
	list := NewAllowList([]string{"CF:AA:13:A1:5C:A5"})

	assert.True(t, list.Contains("cf:aa:13:a1:5c:a5"))
	assert.True(t, list.Contains("cfaa13a15ca5"))
	assert.True(t, list.Contains("CF-AA-13-A1-5C-A5"))
	assert.False(t, list.Contains("aa:bb:cc:dd:ee:01"))
}

func TestAllowList_Wildcard(t *testing.T) {
	list := NewAllowList([]string{"*"})

	assert.True(t, list.AcceptsAny())
	assert.True(t, list.Contains("any:address:at:all"))
	assert.Empty(t, list.Identities())
	assert.Equal(t, 0, list.Size())
}

func TestAllowList_DeduplicatesAndKeepsOrder(t *testing.T) {
	list := NewAllowList([]string{
		"AA:BB:CC:DD:EE:01",
		"aa-bb-cc-dd-ee-01", // same device, different formatting
		"AA:BB:CC:DD:EE:02",
	})

	assert.Equal(t, []string{"aabbccddee01", "aabbccddee02"}, list.Identities())
	assert.Equal(t, 2, list.Size())
	assert.False(t, list.AcceptsAny())
}

func TestAllowList_IgnoresEmptyEntries(t *testing.T) {
	list := NewAllowList([]string{"", "AA:BB:CC:DD:EE:01"})

	assert.Equal(t, 1, list.Size())
}
