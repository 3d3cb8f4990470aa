package filter

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCuckooNoFalseNegatives(t *testing.T) {
	c := NewCuckoo(10000)

	for i := 0; i < 10000; i++ {
		require.NoError(t, c.Add([]byte(fmt.Sprintf("key-%d", i))))
	}

	// Every added element must be reported present.
	for i := 0; i < 10000; i++ {
		ok, err := c.Contains([]byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		require.True(t, ok, "key-%d missing", i)
	}
}

func TestCuckooFalsePositiveRate(t *testing.T) {
	c := NewCuckoo(10000)
	for i := 0; i < 10000; i++ {
		require.NoError(t, c.Add([]byte(fmt.Sprintf("key-%d", i))))
	}

	falsePositives := 0
	probes := 100000
	for i := 0; i < probes; i++ {
		ok, err := c.Contains([]byte(fmt.Sprintf("absent-%d", i)))
		require.NoError(t, err)
		if ok {
			falsePositives++
		}
	}

	// Target is 1%; allow generous slack for hash variance.
	rate := float64(falsePositives) / float64(probes)
	assert.Less(t, rate, 0.03, "false positive rate %f", rate)
}

func TestCuckooCapacityExceeded(t *testing.T) {
	// A tiny filter saturates quickly when driven past its capacity.
	c := NewCuckoo(8)

	var err error
	for i := 0; i < 10000 && err == nil; i++ {
		err = c.Add([]byte(fmt.Sprintf("key-%d", i)))
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestCuckooCount(t *testing.T) {
	c := NewCuckoo(100)
	assert.Equal(t, uint64(0), c.Count())

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Add([]byte(fmt.Sprintf("key-%d", i))))
	}
	assert.Equal(t, uint64(50), c.Count())
	assert.Greater(t, c.LoadFactor(), 0.0)
	assert.Greater(t, c.SizeBytes(), 0)
}

func TestCuckooSerializationRoundTrip(t *testing.T) {
	c := NewCuckoo(1000)
	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Add([]byte(fmt.Sprintf("key-%d", i))))
	}

	var buf bytes.Buffer
	n, err := c.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, KindCuckoo, got.Kind())

	gc, ok := got.(*Cuckoo)
	require.True(t, ok)
	assert.Equal(t, c.Count(), gc.Count())

	for i := 0; i < 1000; i++ {
		ok, err := got.Contains([]byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestCuckooSerializationDeterministic(t *testing.T) {
	build := func() []byte {
		c := NewCuckoo(500)
		for i := 0; i < 500; i++ {
			require.NoError(t, c.Add([]byte(fmt.Sprintf("key-%d", i))))
		}
		var buf bytes.Buffer
		_, err := c.WriteTo(&buf)
		require.NoError(t, err)
		return buf.Bytes()
	}

	assert.Equal(t, build(), build())
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0xff, 0x00, 0x01}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestUnused(t *testing.T) {
	u := Unused{}

	assert.ErrorIs(t, u.Add([]byte("key")), ErrUnsupported)

	ok, err := u.Contains([]byte("key"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupported)

	var buf bytes.Buffer
	_, err = u.WriteTo(&buf)
	require.NoError(t, err)

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindUnused, got.Kind())
}
