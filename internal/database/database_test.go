package database

import (
	"context"
	"path/filepath"
	"testing"

	"roomsync/internal/events"
	"roomsync/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*Database, *[]events.Event) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bus := events.NewBus(logger)
	var seen []events.Event
	for _, topic := range events.ListTopics {
		bus.Subscribe(topic, func(ev events.Event) { seen = append(seen, ev) })
	}

	db, err := NewDatabase(filepath.Join(t.TempDir(), "lists.db"), bus, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, &seen
}

func ids(tracks []models.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.ID
	}
	return out
}

func track(id string) models.Track {
	return models.Track{ID: id, Name: "Song " + id, Singer: "Artist", Album: "Album", Source: "local"}
}

func TestWellKnownListsSeeded(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	info, ok, err := db.ListInfo(ctx, models.ListIDLove)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "My Favorites", info.Name)
	assert.Equal(t, models.ListSourceLove, info.Source)

	_, ok, err = db.ListInfo(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	lists, err := db.Lists(ctx)
	require.NoError(t, err)
	assert.Len(t, lists, 4)

	assert.Error(t, db.DeleteList(ctx, models.ListIDDefault))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lists.db")
	ctx := context.Background()

	db, err := NewDatabase(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.AddMusics(ctx, models.ListIDDefault, []models.Track{track("a")}))
	require.NoError(t, db.Close())

	db, err = NewDatabase(path, nil, nil)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.ListMusics(ctx, models.ListIDDefault)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestOverwritePreservesTrackFields(t *testing.T) {
	db, seen := newTestDB(t)
	ctx := context.Background()

	in := models.Track{
		ID: "x", Name: "X", Singer: "S", Album: "A", Source: "kw",
		Interval: "04:01", PicURL: "http://img",
		Qualities: map[string]models.QualityInfo{"320k": {Size: "9MB", Hash: "h"}},
	}
	require.NoError(t, db.OverwriteListMusics(ctx, "road-trip", []models.Track{in, in}))

	got, err := db.ListMusics(ctx, "road-trip")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0])

	info, ok, err := db.ListInfo(ctx, "road-trip")
	require.NoError(t, err)
	assert.True(t, ok, "overwrite creates missing lists")
	assert.Equal(t, models.ListSourceUser, info.Source)

	require.Len(t, *seen, 1)
	assert.Equal(t, events.ListMusicOverwrite, (*seen)[0].Topic)
	assert.Equal(t, "road-trip", (*seen)[0].ListID)

	require.NoError(t, db.OverwriteListMusics(ctx, "road-trip", []models.Track{}))
	got, err = db.ListMusics(ctx, "road-trip")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestAddRemove(t *testing.T) {
	db, seen := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddMusics(ctx, models.ListIDDefault, []models.Track{track("a"), track("b")}))
	require.NoError(t, db.AddMusics(ctx, models.ListIDDefault, []models.Track{track("b"), track("c")}))
	got, err := db.ListMusics(ctx, models.ListIDDefault)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))

	require.NoError(t, db.RemoveMusics(ctx, models.ListIDDefault, []string{"b"}))
	got, err = db.ListMusics(ctx, models.ListIDDefault)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(got))

	topics := make([]events.Topic, len(*seen))
	for i, ev := range *seen {
		topics[i] = ev.Topic
	}
	assert.Equal(t, []events.Topic{events.ListMusicAdd, events.ListMusicAdd, events.ListMusicRemove}, topics)

	assert.ErrorIs(t, db.AddMusics(ctx, "missing", []models.Track{track("a")}), ErrListNotFound)
}

func TestMoveMusics(t *testing.T) {
	db, seen := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddMusics(ctx, models.ListIDDefault, []models.Track{track("a"), track("b"), track("c")}))
	require.NoError(t, db.AddMusics(ctx, models.ListIDLove, []models.Track{track("z")}))
	*seen = nil

	require.NoError(t, db.MoveMusics(ctx, models.ListIDDefault, models.ListIDLove, []string{"a", "c"}))

	from, err := db.ListMusics(ctx, models.ListIDDefault)
	require.NoError(t, err)
	to, err := db.ListMusics(ctx, models.ListIDLove)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(from))
	assert.Equal(t, []string{"z", "a", "c"}, ids(to))

	require.Len(t, *seen, 2)
	assert.Equal(t, models.ListIDDefault, (*seen)[0].ListID)
	assert.Equal(t, models.ListIDLove, (*seen)[1].ListID)
}

func TestUpdatePosition(t *testing.T) {
	tests := []struct {
		name     string
		position int
		move     []string
		want     []string
	}{
		{"to front", 0, []string{"d"}, []string{"d", "a", "b", "c"}},
		{"block keeps order", 1, []string{"d", "a"}, []string{"b", "a", "d", "c"}},
		{"past end appends", 10, []string{"a"}, []string{"b", "c", "d", "a"}},
		{"negative clamps", -3, []string{"c"}, []string{"c", "a", "b", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _ := newTestDB(t)
			ctx := context.Background()
			require.NoError(t, db.AddMusics(ctx, models.ListIDTemp,
				[]models.Track{track("a"), track("b"), track("c"), track("d")}))

			require.NoError(t, db.UpdatePosition(ctx, models.ListIDTemp, tt.position, tt.move))
			got, err := db.ListMusics(ctx, models.ListIDTemp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestCreateAndDeleteUserList(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateList(ctx, "gym", "Gym"))
	assert.Error(t, db.CreateList(ctx, "gym", "Again"))
	require.NoError(t, db.AddMusics(ctx, "gym", []models.Track{track("a")}))

	require.NoError(t, db.DeleteList(ctx, "gym"))
	assert.ErrorIs(t, db.DeleteList(ctx, "gym"), ErrListNotFound)

	got, err := db.ListMusics(ctx, "gym")
	require.NoError(t, err)
	assert.Empty(t, got, "tracks cascade with the list")
}
