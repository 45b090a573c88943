package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	b := New("sequere:", ":")

	assert.Equal(t, "sequere:global:uid", b.Key("global", "uid"))
	assert.Equal(t, "sequere:uid:3:followers", b.Key("uid", int64(3), "followers", ""))
	assert.Equal(t, "sequere:uid:3:followers:user:count", b.Key("uid", int64(3), "followers", "user", "count"))
	assert.Equal(t, "sequere:uid:user:42", b.Key("uid", "user", 42))
}

func TestJoin(t *testing.T) {
	b := New("p:", "/")
	key := b.Key("uid", int64(1), "private")

	assert.Equal(t, "p:uid/1/private", key)
	assert.Equal(t, "p:uid/1/private/verb/like/count", b.Join(key, "verb", "like", "count"))
	assert.Equal(t, "p:uid/1/private/count", b.Join(key, "", "count"))
}

func TestDefaultSeparator(t *testing.T) {
	assert.Equal(t, "a:b", New("", "").Key("a", "b"))
}

type relation string

func TestSegmentTypes(t *testing.T) {
	b := New("k:", ":")

	assert.Equal(t, "k:7:8:9:10", b.Key(int32(7), uint(8), uint32(9), int8(10)))
	assert.Equal(t, "k:uid:followers", b.Key("uid", relation("followers")))
	assert.NotEqual(t, b.Key("uid", int32(1), "followers"), b.Key("uid", "followers"))
}

func TestUnsupportedSegmentPanics(t *testing.T) {
	b := New("k:", ":")

	assert.PanicsWithValue(t, "keys: unsupported segment type float64", func() { b.Key("uid", 1.5) })
	assert.Panics(t, func() { b.Join("k:uid", []string{"a"}) })
}
