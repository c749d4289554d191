package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jnesss/diagview/types"
)

func TestRandCounter(t *testing.T) {
	var c RandCounter
	_, ok := c.Percent()
	assert.False(t, ok)

	c.Add([]byte{0x2b, 0x2b, 0x17})
	pct, ok := c.Percent()
	assert.True(t, ok)
	assert.Equal(t, 33, pct)
	assert.Equal(t, RandCounter{ByteCount: 3, RandCount: 1}, c)
}

func TestRandomizationOrder(t *testing.T) {
	s := &Session{}
	s.SACCHPad.Add([]byte{1, 2})
	s.SI5.Add([]byte{0x2b, 0x2b, 0x2b, 0x01})
	s.Null.Add([]byte{0x2b})

	assert.Equal(t, []PaddingStat{
		{Class: "si5", Percent: 25},
		{Class: "null", Percent: 0},
		{Class: "sacch_pad", Percent: 100},
	}, s.Randomization())

	assert.Empty(t, (&Session{}).Randomization())
}

func TestAlgorithmNames(t *testing.T) {
	assert.Equal(t, "A5/3", CipherName(types.RAT_GSM, 3))
	assert.Equal(t, "UEA/2", CipherName(types.RAT_UMTS, 2))
	assert.Equal(t, "EEA/1", CipherName(types.RAT_LTE, 1))
	assert.Equal(t, "", IntegrityName(types.RAT_GSM, 1))
	assert.Equal(t, "UIA/1", IntegrityName(types.RAT_UMTS, 1))
	assert.Equal(t, "EIA/2", IntegrityName(types.RAT_LTE, 2))
}

func TestIdentifiersObserved(t *testing.T) {
	s := &Session{}
	assert.False(t, s.HasTMSI())
	assert.False(t, s.HasTLLI())

	s.TLLI = [4]byte{0, 0, 0, 1}
	s.OldTMSI = [4]byte{0xde, 0xad, 0, 0}
	assert.True(t, s.HasTLLI())
	assert.True(t, s.HasTMSI())
	assert.False(t, s.HasNewTMSI())
}

func TestArenaReusesReleasedHandles(t *testing.T) {
	a := NewArena()
	m1, m2 := &types.RadioMessage{ID: 1}, &types.RadioMessage{ID: 2}

	h1 := a.Put(m1)
	h2 := a.Put(m2)
	assert.NotEqual(t, NoHandle, h1)
	assert.Same(t, m2, a.Get(h2))
	assert.Equal(t, 2, a.Len())

	a.Release(h1)
	a.Release(h1)
	assert.Nil(t, a.Get(h1))
	assert.Equal(t, 1, a.Len())

	h3 := a.Put(&types.RadioMessage{ID: 3})
	assert.Equal(t, h1, h3)
	assert.Nil(t, a.Get(NoHandle))
	assert.Nil(t, a.Get(Handle(99)))
}
