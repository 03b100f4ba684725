package bartender

import (
	"context"

	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/ln"
)

// resolve resolves a batch of Logical Names in a single Librarian round
// trip. Trailing separators are stripped first; they mark a name as a
// directory and are not part of it. Nothing is cached: each call sees the
// catalog as it is now, which may already differ by the time the caller
// acts on the result.
func (s *Service) resolve(ctx context.Context, names map[string]string) (map[string]catalog.Traversal, error) {
	cleaned := make(map[string]string, len(names))
	for id, name := range names {
		cleaned[id] = ln.Clean(name)
	}
	return s.traverseLN(ctx, cleaned)
}

// linkName is the name under which the traversed entry is linked in its
// parent, or the root segment for an entry reached directly.
func linkName(tr catalog.Traversal) string {
	last, _ := tr.Last()
	return last.Name
}

// splitCleaned returns the root and basename of name once trailing
// separators are stripped.
func splitCleaned(name string) (root, base string) {
	root, _, base = ln.Split(ln.Clean(name))
	return root, base
}
