package catalog

import (
	"fmt"
	"strings"
)

// Well-known GUIDs present in every catalog.
const (
	// GlobalRootGUID is the collection a Logical Name with an empty root
	// segment is resolved against.
	GlobalRootGUID = "0"

	// ShepherdRegistryGUID holds the heartbeat timestamps of every
	// storage node under the heartbeats section.
	ShepherdRegistryGUID = "1"
)

// EntryType is the value of the (entry, type) property.
type EntryType string

const (
	EntryTypeFile       EntryType = "file"
	EntryTypeCollection EntryType = "collection"
)

// ReplicaState is the lifecycle state of one replica in the locations
// section.
type ReplicaState string

const (
	ReplicaCreating ReplicaState = "creating"
	ReplicaAlive    ReplicaState = "alive"
)

// ParentMarker is the value stored under every parents property.
const ParentMarker = "parent"

// Location identifies a replica: the storage node holding it and the
// node-local reference of the bytes.
type Location struct {
	ServiceID   string
	ReferenceID string
}

// String serializes the location the way it is stored as a property name
// of the locations section: "<serviceID> <referenceID>".
func (l Location) String() string {
	return l.ServiceID + " " + l.ReferenceID
}

// MarshalText implements encoding.TextMarshaler so locations can key JSON
// objects.
func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Location) UnmarshalText(text []byte) error {
	parsed, err := ParseLocation(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLocation is the inverse of Location.String.
func ParseLocation(s string) (Location, error) {
	serviceID, referenceID, ok := strings.Cut(s, " ")
	if !ok || serviceID == "" || referenceID == "" {
		return Location{}, fmt.Errorf("invalid location %q", s)
	}
	return Location{ServiceID: serviceID, ReferenceID: referenceID}, nil
}

// ParentKey builds the parents property recording that the entry is linked
// as name inside the collection parentGUID.
func ParentKey(parentGUID, name string) string {
	return parentGUID + "/" + name
}

// Link is one step of a resolved Logical Name: the segment that was
// matched and the GUID it led to.
type Link struct {
	Name string
	GUID string
}

// Traversal is the resolution record of one Logical Name.
//
// Metadata and GUID describe the last entry that could be reached.
// TraversedLN is the matched prefix, RestLN the unmatched suffix, and
// Complete reports whether RestLN is empty. Chain lists every reached
// entry from the root down; when it is not empty its last GUID equals
// GUID. An empty Chain means the root segment did not name an existing
// entry.
type Traversal struct {
	Metadata    *Metadata
	GUID        string
	TraversedLN string
	RestLN      string
	Complete    bool
	Chain       []Link
}

// Parent returns the link above the reached entry, if there is one.
func (t *Traversal) Parent() (Link, bool) {
	if len(t.Chain) < 2 {
		return Link{}, false
	}
	return t.Chain[len(t.Chain)-2], true
}

// Last returns the link of the reached entry.
func (t *Traversal) Last() (Link, bool) {
	if len(t.Chain) == 0 {
		return Link{}, false
	}
	return t.Chain[len(t.Chain)-1], true
}

// Contains reports whether guid appears anywhere in the chain.
func (t *Traversal) Contains(guid string) bool {
	for _, link := range t.Chain {
		if link.GUID == guid {
			return true
		}
	}
	return false
}

// ChangeType is a modifyMetadata operation.
type ChangeType string

const (
	// ChangeSet overwrites the property.
	ChangeSet ChangeType = "set"

	// ChangeUnset removes the property.
	ChangeUnset ChangeType = "unset"

	// ChangeAdd sets the property only if it is not present yet.
	ChangeAdd ChangeType = "add"

	// ChangeSetIfValue sets the property only if its current value equals
	// Change.Expected.
	ChangeSetIfValue ChangeType = "setifvalue"
)

// Change is one modifyMetadata request.
type Change struct {
	GUID     string
	Type     ChangeType
	Section  string
	Property string
	Value    string

	// Expected is the required current value for ChangeSetIfValue.
	Expected string
}

// Status strings returned by ModifyMetadata.
const (
	StatusSet         = "set"
	StatusUnset       = "unset"
	StatusEntryExists = "entry exists"
	StatusNoSuchGUID  = "no such GUID"
	StatusNotChanged  = "not changed"
)

// Status strings returned by New and Remove.
const (
	StatusDone    = "done"
	StatusExists  = "exists"
	StatusFailed  = "failed"
	StatusRemoved = "removed"
)

// NewResult is the outcome of creating one entry.
type NewResult struct {
	GUID   string
	Status string
}

// Filter selects metadata in Get. An empty Property selects the whole
// section.
type Filter struct {
	Section  string
	Property string
}
