package catalog

import (
	"strings"

	"github.com/marmos91/bartender/pkg/ln"
)

// Getter loads one entry for Traverse. It returns (nil, nil) when the GUID
// does not exist.
type Getter func(guid string) (*Metadata, error)

// Traverse resolves one Logical Name by walking collections with get.
// Backends call it inside whatever read view they hold so the walk sees a
// consistent catalog.
//
// Empty and "." segments are skipped. A child GUID listed in a collection
// but missing from the catalog stops the walk as if the name were absent.
func Traverse(name string, get Getter) (Traversal, error) {
	name = ln.Clean(name)
	root := ln.Root(name)
	segments := ln.Segments(name)

	rootGUID := root
	if rootGUID == "" {
		rootGUID = GlobalRootGUID
	}

	md, err := get(rootGUID)
	if err != nil {
		return Traversal{}, err
	}
	if md == nil {
		return Traversal{
			RestLN:   strings.Join(segments, ln.Separator),
			Complete: false,
		}, nil
	}

	guid := rootGUID
	chain := []Link{{Name: root, GUID: rootGUID}}

	i := 0
	for ; i < len(segments); i++ {
		if !md.IsCollection() {
			break
		}
		childGUID, ok := md.Entries[segments[i]]
		if !ok {
			break
		}
		child, err := get(childGUID)
		if err != nil {
			return Traversal{}, err
		}
		if child == nil {
			break
		}
		md = child
		guid = childGUID
		chain = append(chain, Link{Name: segments[i], GUID: childGUID})
	}

	traversed := root
	if i > 0 {
		traversed = root + ln.Separator + strings.Join(segments[:i], ln.Separator)
	}
	rest := segments[i:]

	return Traversal{
		Metadata:    md.Clone(),
		GUID:        guid,
		TraversedLN: traversed,
		RestLN:      strings.Join(rest, ln.Separator),
		Complete:    len(rest) == 0,
		Chain:       chain,
	}, nil
}
