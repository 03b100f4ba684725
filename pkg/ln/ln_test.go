package ln

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		root string
		dir  string
		base string
	}{
		{"Empty", "", "", "", ""},
		{"BareGUID", "1234", "1234", "", ""},
		{"GlobalRootOnly", "/", "", "", ""},
		{"RootChild", "/a", "", "", "a"},
		{"Nested", "guid/d1/d2/f", "guid", "d1/d2", "f"},
		{"TrailingSlash", "/a/b/", "", "a/b", ""},
		{"LeadingSlashes", "//a", "", "", "a"},
		{"GUIDChild", "guid/f", "guid", "", "f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, dir, base := Split(tt.in)
			assert.Equal(t, tt.root, root)
			assert.Equal(t, tt.dir, dir)
			assert.Equal(t, tt.base, base)
		})
	}
}

func TestJoinRecoversEquivalentName(t *testing.T) {
	names := []string{
		"",
		"guid",
		"/a",
		"/a/b/c",
		"guid/d1/d2/f",
		"//a",
		"/a//b",
		"guid/",
	}

	for _, name := range names {
		joined := Join(Split(name))
		assert.Equal(t, Segments(name), Segments(joined), "segments differ for %q", name)
		assert.Equal(t, Root(name), Root(joined), "root differs for %q", name)

		// Joining is idempotent once the name is in canonical form.
		assert.Equal(t, joined, Join(Split(joined)), "not canonical for %q", name)
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "/a/b", Clean("/a/b/"))
	assert.Equal(t, "/a/b", Clean("/a/b///"))
	assert.Equal(t, "", Clean("/"))
	assert.Equal(t, "guid", Clean("guid"))
}

func TestSegments(t *testing.T) {
	assert.Nil(t, Segments("guid"))
	assert.Equal(t, []string{"a"}, Segments("/a"))
	assert.Equal(t, []string{"a", "b"}, Segments("/a/./b"))
	assert.Equal(t, []string{"a", "b"}, Segments("//a//b"))
}
