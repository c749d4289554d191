package session

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/diagview/types"
)

func TestRegistryCreate(t *testing.T) {
	ids := NewIDAllocator(7)
	clock := func() time.Time { return fixedClock }

	r := NewRegistry(ids, false, false, clock)
	s := r.Create(CreateParams{
		ID:         -1,
		Name:       "upload-1",
		Key:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
		MCC:        262,
		MNC:        2,
		LAC:        100,
		CID:        200,
		CellARFCNs: []uint16{1, 2, 3},
		Now:        1700000000,
	})

	assert.Equal(t, 7, s.ID)
	assert.Equal(t, 8, ids.Current())
	assert.Equal(t, "upload-1", s.Name)
	assert.True(t, s.HaveKey)
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, s.Key)
	assert.Equal(t, KeyRecovered, s.KeyState())
	assert.Equal(t, int64(1700000000), s.Timestamp.Unix())
	assert.Equal(t, []uint16{1, 2, 3}, s.CellARFCNs)
	assert.Equal(t, 1, r.Len())

	fixed := r.Create(CreateParams{ID: 42})
	assert.Equal(t, 42, fixed.ID)
	assert.Equal(t, 8, ids.Current())

	auto := NewRegistry(nil, false, true, clock).Create(CreateParams{ID: 1, Now: 5})
	assert.Equal(t, fixedClock, auto.Timestamp)
}

func TestRegistryEnumerate(t *testing.T) {
	r := NewRegistry(nil, false, false, nil)
	a := r.Create(CreateParams{ID: 1, Name: "first"})
	r.Create(CreateParams{ID: 2, Name: "idle"})
	c := r.Create(CreateParams{ID: 3, Name: "third"})

	r.Begin(a, types.RAT_GSM)
	r.Begin(c, types.RAT_UMTS)

	var buf bytes.Buffer
	assert.Equal(t, 2, r.Enumerate(&buf))
	assert.Equal(t, "Open sessions:\n 3: third\n 1: first\n\n", buf.String())
	assert.Equal(t, 2, r.Enumerate(nil))

	r.Finish(c)
	assert.Equal(t, []Entry{{ID: 1, Name: "first"}}, r.Processing())
}

func TestRegistryFree(t *testing.T) {
	r := NewRegistry(nil, true, false, nil)
	s := r.Create(CreateParams{ID: 1})
	err := r.Free(s)
	assert.True(t, errors.Is(err, ErrAutoReset))
	assert.Equal(t, 1, r.Len())

	r = NewRegistry(nil, false, false, nil)
	s = r.Create(CreateParams{ID: 1})
	assert.True(t, errors.Is(r.Free(nil), ErrNilSession))
	require.NoError(t, r.Free(s))
	assert.Zero(t, r.Len())

	// freeing twice is harmless
	require.NoError(t, r.Free(s))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil, false, false, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := r.Create(CreateParams{ID: -1, Name: fmt.Sprintf("w%d-%d", i, j)})
				r.Begin(s, types.RAT_GSM)
				r.Enumerate(nil)
				r.Finish(s)
				_ = r.Free(s)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, r.Len())
	assert.Zero(t, r.Enumerate(nil))
}
