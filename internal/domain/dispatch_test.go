package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationRef(t *testing.T) {
	const key = "anon_0123456789abcdef0123456789abcdef:tab1"

	ref := ConversationRef(key)
	assert.Len(t, ref, 16)
	assert.Equal(t, ref, ConversationRef(key), "stable across calls")
	assert.NotEqual(t, ref, ConversationRef("anon_0123456789abcdef0123456789abcdef:tab2"))
	assert.False(t, strings.Contains(ref, "anon"))
	assert.Empty(t, ConversationRef(""))
}
