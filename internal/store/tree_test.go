package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "a/b/c", want: "a/b/c"},
		{name: "surrounding slashes", in: "/a/b/", want: "a/b"},
		{name: "empty", in: "", wantErr: true},
		{name: "only slash", in: "/", wantErr: true},
		{name: "double slash", in: "a//b", wantErr: true},
		{name: "dot in key", in: "a/b.c", wantErr: true},
		{name: "bracket in key", in: "a/[0]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				var storeErr *Error
				require.ErrorAs(t, err, &storeErr)
				assert.Equal(t, CodeInvalidPath, storeErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	value := map[string]any{
		"name":  "room",
		"count": 3,
		"tags":  []any{"x", "y"},
		"empty": []any{},
		"gone":  map[string]any{},
		"skip":  nil,
		"nested": map[string]any{
			"ok": true,
		},
	}

	leaves, err := flatten("root", value, 42)
	require.NoError(t, err)

	assert.Equal(t, `"room"`, leaves["root/name"])
	assert.Equal(t, `3`, leaves["root/count"])
	assert.Equal(t, `"x"`, leaves["root/tags/0"])
	assert.Equal(t, emptyArrayLeaf, leaves["root/empty"])
	assert.Equal(t, `true`, leaves["root/nested/ok"])
	assert.NotContains(t, leaves, "root/gone")
	assert.NotContains(t, leaves, "root/skip")

	got, err := unflatten("root", leaves)
	require.NoError(t, err)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"room","count":3,"tags":["x","y"],"empty":[],"nested":{"ok":true}}`, string(data))
}

func TestFlattenServerTimestamp(t *testing.T) {
	leaves, err := flatten("status", map[string]any{"updated_at": ServerTimestamp}, 1700000000123)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", leaves["status/updated_at"])
}

func TestUnflattenMissing(t *testing.T) {
	got, err := unflatten("absent", map[string]string{"other/x": `1`})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestArrayifyOnlyDenseKeys(t *testing.T) {
	got := arrayify(map[string]any{"0": "a", "2": "c"})
	_, isMap := got.(map[string]any)
	assert.True(t, isMap, "sparse keys stay an object")

	got = arrayify(map[string]any{"1": "b", "0": "a"})
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestAncestorsAndOverlaps(t *testing.T) {
	assert.Equal(t, []string{"a", "a/b"}, ancestors("a/b/c"))
	assert.Empty(t, ancestors("a"))

	assert.True(t, overlaps("a/b", "a"))
	assert.True(t, overlaps("a", "a/b/c"))
	assert.True(t, overlaps("a/b", "a/b"))
	assert.False(t, overlaps("a/b", "a/bc"))
	assert.False(t, overlaps("a/b", "a/c"))
}

func TestPrepareUpdateRejectsOverlap(t *testing.T) {
	_, _, err := prepareUpdate(map[string]any{
		"rooms/r1":        1,
		"rooms/r1/status": 2,
	})
	require.Error(t, err)

	paths, _, err := prepareUpdate(map[string]any{
		"rooms/r1/b": 1,
		"/rooms/r1/a": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rooms/r1/a", "rooms/r1/b"}, paths)
}

func TestChildKey(t *testing.T) {
	key, ok := childKey("sync_rooms/room_1/session_info/roomCode", "sync_rooms", "session_info/roomCode")
	require.True(t, ok)
	assert.Equal(t, "room_1", key)

	_, ok = childKey("sync_rooms/a/b/session_info/roomCode", "sync_rooms", "session_info/roomCode")
	assert.False(t, ok)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c`, escapeGlob("a*b?c"))
	assert.Equal(t, "plain/path", escapeGlob("plain/path"))
}
