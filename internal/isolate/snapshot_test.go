package isolate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSeedsContext(t *testing.T) {
	blob, err := CreateSnapshot("function greet(who) { return 'hi ' + who }")
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	c, err := New(Options{Snapshot: blob})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Run("greet('snapshot')", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi snapshot", v)
}

func TestSnapshotReusableAcrossContexts(t *testing.T) {
	blob, err := CreateSnapshot("var seeded = 7")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		c, err := New(Options{Snapshot: blob})
		require.NoError(t, err)
		v, err := c.Run("seeded", "", ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
		require.NoError(t, c.Close())
	}
}

func TestCreateSnapshotRejectsEmptySource(t *testing.T) {
	_, err := CreateSnapshot("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidArgument}))
}

func TestCreateSnapshotRejectsSyntaxError(t *testing.T) {
	_, err := CreateSnapshot("function {")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindCompile}))
}

func TestCreateSnapshotRejectsFailingSource(t *testing.T) {
	_, err := CreateSnapshot("throw new Error('no good')")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidSnapshot}))
}

func TestNewRejectsCorruptSnapshot(t *testing.T) {
	blob, err := CreateSnapshot("var x = 1")
	require.NoError(t, err)

	tests := []struct {
		name string
		blob []byte
	}{
		{"truncated", blob[:len(blob)-2]},
		{"bad magic", append([]byte("NOTASNAP"), blob[8:]...)},
		{"garbage", []byte{0x01, 0x02, 0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{Snapshot: tt.blob})
			require.Error(t, err)
			assert.True(t, errors.Is(err, &Error{Kind: KindInvalidSnapshot}))
		})
	}
}

func TestNewRejectsWrongSnapshotVersion(t *testing.T) {
	blob, err := CreateSnapshot("var x = 1")
	require.NoError(t, err)
	blob[len(snapshotMagic)] = 99

	_, err = New(Options{Snapshot: blob})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidSnapshot}))
}
