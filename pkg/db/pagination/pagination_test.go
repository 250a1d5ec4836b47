package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeCursor(Cursor{ID: 42, CreatedAt: at})
	require.NoError(t, err)

	c, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.ID)
	assert.True(t, at.Equal(c.CreatedAt))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	c, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	_, err = DecodeCursor("!!!")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestPage(t *testing.T) {
	rows := []int{1, 2, 3}
	cursorOf := func(v int) Cursor { return Cursor{ID: int64(v)} }

	kept, info, err := Page(rows, 2, cursorOf)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, kept)
	assert.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)

	kept, info, err = Page(rows, 5, cursorOf)
	require.NoError(t, err)
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)

	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
}
