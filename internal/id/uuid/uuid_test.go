package uuid

import (
	"testing"
	"time"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestTimestamp(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	id, err := New().NewID()
	require.NoError(t, err)

	ts, err := Timestamp(id)
	require.NoError(t, err)
	assert.True(t, ts.After(before), "timestamp %v before %v", ts, before)
	assert.True(t, ts.Before(time.Now().Add(time.Second)))

	_, err = Timestamp("not-a-uuid")
	require.Error(t, err)

	_, err = Timestamp(goUUID.NewString())
	require.Error(t, err, "v4 ids carry no timestamp")
}
