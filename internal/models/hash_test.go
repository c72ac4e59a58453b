package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipHashOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	h1 := MembershipHash([]uuid.UUID{a, b, c})
	h2 := MembershipHash([]uuid.UUID{c, a, b})
	h3 := MembershipHash([]uuid.UUID{b, c, a})

	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
}

func TestMembershipHashDistinguishesSets(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	require.NotEqual(t,
		MembershipHash([]uuid.UUID{a, b}),
		MembershipHash([]uuid.UUID{a, c}))
	require.NotEqual(t,
		MembershipHash([]uuid.UUID{a, b}),
		MembershipHash([]uuid.UUID{a, b, c}))
}

func TestMembershipHashStable(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	h1 := MembershipHash([]uuid.UUID{id})
	h2 := MembershipHash([]uuid.UUID{id})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex sha256
}

func TestMembershipHashEmptySet(t *testing.T) {
	assert.NotEmpty(t, MembershipHash(nil))
	assert.Equal(t, MembershipHash(nil), MembershipHash([]uuid.UUID{}))
}
