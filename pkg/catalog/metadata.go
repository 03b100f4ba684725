package catalog

import (
	"fmt"
	"sort"
	"strconv"
)

// Section names of a catalog entry.
const (
	SectionEntry      = "entry"
	SectionEntries    = "entries"
	SectionParents    = "parents"
	SectionLocations  = "locations"
	SectionStates     = "states"
	SectionPolicy     = "policy"
	SectionTimestamps = "timestamps"
	SectionHeartbeats = "heartbeats"
)

// Property names of the fixed sections.
const (
	PropertyType           = "type"
	PropertyGUID           = "GUID"
	PropertySize           = "size"
	PropertyChecksum       = "checksum"
	PropertyChecksumType   = "checksumType"
	PropertyNeededReplicas = "neededReplicas"
	PropertyCreated        = "created"
)

// Triple is one (section, property) → value pair in its flat form, as it
// travels on the wire and through modifyMetadata.
type Triple struct {
	Section  string `json:"section"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Entry is the entry section.
type Entry struct {
	Type EntryType `json:"type,omitempty"`

	// GUID requests an explicit GUID when the entry is created. It is
	// only used for entries attached directly under a root segment.
	GUID string `json:"guid,omitempty"`
}

// States is the states section of a file.
type States struct {
	Size           *int64 `json:"size,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	ChecksumType   string `json:"checksumType,omitempty"`
	NeededReplicas *int   `json:"neededReplicas,omitempty"`
}

// Timestamps is the timestamps section. Zero means unset.
type Timestamps struct {
	Created int64 `json:"created,omitempty"`
}

// Metadata is the content of one catalog entry, one typed field per
// section. Only entries, parents, locations, policy and heartbeats are
// open maps; every other section has a fixed set of properties.
type Metadata struct {
	Entry      Entry                     `json:"entry"`
	Entries    map[string]string         `json:"entries,omitempty"`
	Parents    map[string]string         `json:"parents,omitempty"`
	Locations  map[Location]ReplicaState `json:"locations,omitempty"`
	States     States                    `json:"states"`
	Policy     map[string]string         `json:"policy,omitempty"`
	Timestamps Timestamps                `json:"timestamps"`
	Heartbeats map[string]int64          `json:"heartbeats,omitempty"`
}

// IsFile reports whether the entry is a file.
func (m *Metadata) IsFile() bool {
	return m != nil && m.Entry.Type == EntryTypeFile
}

// IsCollection reports whether the entry is a collection.
func (m *Metadata) IsCollection() bool {
	return m != nil && m.Entry.Type == EntryTypeCollection
}

// RefCount is the number of collections linking to the entry.
func (m *Metadata) RefCount() int {
	if m == nil {
		return 0
	}
	return len(m.Parents)
}

// Empty reports whether no property is set.
func (m *Metadata) Empty() bool {
	return m == nil || len(m.Triples()) == 0
}

// ReplicaServices returns the service IDs holding a replica, in any state.
func (m *Metadata) ReplicaServices() map[string]struct{} {
	services := make(map[string]struct{})
	if m == nil {
		return services
	}
	for loc := range m.Locations {
		services[loc.ServiceID] = struct{}{}
	}
	return services
}

// AliveLocations returns the locations whose replica is alive, sorted.
func (m *Metadata) AliveLocations() []Location {
	if m == nil {
		return nil
	}
	var alive []Location
	for loc, state := range m.Locations {
		if state == ReplicaAlive {
			alive = append(alive, loc)
		}
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].String() < alive[j].String() })
	return alive
}

// Triples flattens the metadata, sorted by section and property.
func (m *Metadata) Triples() []Triple {
	if m == nil {
		return nil
	}

	var out []Triple
	add := func(section, property, value string) {
		out = append(out, Triple{Section: section, Property: property, Value: value})
	}

	if m.Entry.Type != "" {
		add(SectionEntry, PropertyType, string(m.Entry.Type))
	}
	if m.Entry.GUID != "" {
		add(SectionEntry, PropertyGUID, m.Entry.GUID)
	}
	for k, v := range m.Entries {
		add(SectionEntries, k, v)
	}
	for k, v := range m.Parents {
		add(SectionParents, k, v)
	}
	for k, v := range m.Locations {
		add(SectionLocations, k.String(), string(v))
	}
	if m.States.Size != nil {
		add(SectionStates, PropertySize, strconv.FormatInt(*m.States.Size, 10))
	}
	if m.States.Checksum != "" {
		add(SectionStates, PropertyChecksum, m.States.Checksum)
	}
	if m.States.ChecksumType != "" {
		add(SectionStates, PropertyChecksumType, m.States.ChecksumType)
	}
	if m.States.NeededReplicas != nil {
		add(SectionStates, PropertyNeededReplicas, strconv.Itoa(*m.States.NeededReplicas))
	}
	for k, v := range m.Policy {
		add(SectionPolicy, k, v)
	}
	if m.Timestamps.Created != 0 {
		add(SectionTimestamps, PropertyCreated, strconv.FormatInt(m.Timestamps.Created, 10))
	}
	for k, v := range m.Heartbeats {
		add(SectionHeartbeats, k, strconv.FormatInt(v, 10))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].Property < out[j].Property
	})
	return out
}

// FromTriples builds metadata from its flat form.
func FromTriples(triples []Triple) (*Metadata, error) {
	m := &Metadata{}
	for _, t := range triples {
		if err := m.Set(t.Section, t.Property, t.Value); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c, err := FromTriples(m.Triples())
	if err != nil {
		// Triples only ever produces values Set accepts.
		panic(fmt.Sprintf("catalog: clone: %v", err))
	}
	return c
}

// Filter returns the part of the metadata selected by filters. No filters
// selects everything.
func (m *Metadata) Filter(filters []Filter) *Metadata {
	if m == nil {
		return nil
	}
	if len(filters) == 0 {
		return m.Clone()
	}

	var kept []Triple
	for _, t := range m.Triples() {
		for _, f := range filters {
			if f.Section == t.Section && (f.Property == "" || f.Property == t.Property) {
				kept = append(kept, t)
				break
			}
		}
	}
	out, _ := FromTriples(kept)
	return out
}

// Get returns the value of one property and whether it is present.
func (m *Metadata) Get(section, property string) (string, bool, error) {
	switch section {
	case SectionEntry:
		switch property {
		case PropertyType:
			return string(m.Entry.Type), m.Entry.Type != "", nil
		case PropertyGUID:
			return m.Entry.GUID, m.Entry.GUID != "", nil
		}
	case SectionEntries:
		v, ok := m.Entries[property]
		return v, ok, nil
	case SectionParents:
		v, ok := m.Parents[property]
		return v, ok, nil
	case SectionLocations:
		loc, err := ParseLocation(property)
		if err != nil {
			return "", false, err
		}
		v, ok := m.Locations[loc]
		return string(v), ok, nil
	case SectionStates:
		switch property {
		case PropertySize:
			if m.States.Size == nil {
				return "", false, nil
			}
			return strconv.FormatInt(*m.States.Size, 10), true, nil
		case PropertyChecksum:
			return m.States.Checksum, m.States.Checksum != "", nil
		case PropertyChecksumType:
			return m.States.ChecksumType, m.States.ChecksumType != "", nil
		case PropertyNeededReplicas:
			if m.States.NeededReplicas == nil {
				return "", false, nil
			}
			return strconv.Itoa(*m.States.NeededReplicas), true, nil
		}
	case SectionPolicy:
		v, ok := m.Policy[property]
		return v, ok, nil
	case SectionTimestamps:
		if property == PropertyCreated {
			return strconv.FormatInt(m.Timestamps.Created, 10), m.Timestamps.Created != 0, nil
		}
	case SectionHeartbeats:
		v, ok := m.Heartbeats[property]
		return strconv.FormatInt(v, 10), ok, nil
	default:
		return "", false, fmt.Errorf("unknown section %q", section)
	}
	return "", false, fmt.Errorf("unknown property %q in section %q", property, section)
}

// Set stores one property, parsing the value into the section's type.
func (m *Metadata) Set(section, property, value string) error {
	switch section {
	case SectionEntry:
		switch property {
		case PropertyType:
			t := EntryType(value)
			if t != EntryTypeFile && t != EntryTypeCollection {
				return fmt.Errorf("invalid entry type %q", value)
			}
			m.Entry.Type = t
			return nil
		case PropertyGUID:
			m.Entry.GUID = value
			return nil
		}
	case SectionEntries:
		if m.Entries == nil {
			m.Entries = make(map[string]string)
		}
		m.Entries[property] = value
		return nil
	case SectionParents:
		if m.Parents == nil {
			m.Parents = make(map[string]string)
		}
		m.Parents[property] = value
		return nil
	case SectionLocations:
		loc, err := ParseLocation(property)
		if err != nil {
			return err
		}
		state := ReplicaState(value)
		if state != ReplicaCreating && state != ReplicaAlive {
			return fmt.Errorf("invalid replica state %q", value)
		}
		if m.Locations == nil {
			m.Locations = make(map[Location]ReplicaState)
		}
		m.Locations[loc] = state
		return nil
	case SectionStates:
		switch property {
		case PropertySize:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid size %q", value)
			}
			m.States.Size = &n
			return nil
		case PropertyChecksum:
			m.States.Checksum = value
			return nil
		case PropertyChecksumType:
			m.States.ChecksumType = value
			return nil
		case PropertyNeededReplicas:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid neededReplicas %q", value)
			}
			m.States.NeededReplicas = &n
			return nil
		}
	case SectionPolicy:
		if m.Policy == nil {
			m.Policy = make(map[string]string)
		}
		m.Policy[property] = value
		return nil
	case SectionTimestamps:
		if property == PropertyCreated {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timestamp %q", value)
			}
			m.Timestamps.Created = n
			return nil
		}
	case SectionHeartbeats:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid heartbeat %q", value)
		}
		if m.Heartbeats == nil {
			m.Heartbeats = make(map[string]int64)
		}
		m.Heartbeats[property] = n
		return nil
	default:
		return fmt.Errorf("unknown section %q", section)
	}
	return fmt.Errorf("unknown property %q in section %q", property, section)
}

// Unset removes one property. Removing an absent property is not an error.
func (m *Metadata) Unset(section, property string) error {
	switch section {
	case SectionEntry:
		switch property {
		case PropertyType:
			m.Entry.Type = ""
			return nil
		case PropertyGUID:
			m.Entry.GUID = ""
			return nil
		}
	case SectionEntries:
		delete(m.Entries, property)
		return nil
	case SectionParents:
		delete(m.Parents, property)
		return nil
	case SectionLocations:
		loc, err := ParseLocation(property)
		if err != nil {
			return err
		}
		delete(m.Locations, loc)
		return nil
	case SectionStates:
		switch property {
		case PropertySize:
			m.States.Size = nil
			return nil
		case PropertyChecksum:
			m.States.Checksum = ""
			return nil
		case PropertyChecksumType:
			m.States.ChecksumType = ""
			return nil
		case PropertyNeededReplicas:
			m.States.NeededReplicas = nil
			return nil
		}
	case SectionPolicy:
		delete(m.Policy, property)
		return nil
	case SectionTimestamps:
		if property == PropertyCreated {
			m.Timestamps.Created = 0
			return nil
		}
	case SectionHeartbeats:
		delete(m.Heartbeats, property)
		return nil
	default:
		return fmt.Errorf("unknown section %q", section)
	}
	return fmt.Errorf("unknown property %q in section %q", property, section)
}

// Apply performs one modifyMetadata change in place and returns its
// status string.
func (m *Metadata) Apply(c Change) string {
	switch c.Type {
	case ChangeSet:
		if err := m.Set(c.Section, c.Property, c.Value); err != nil {
			return "failed: " + err.Error()
		}
		return StatusSet

	case ChangeUnset:
		if err := m.Unset(c.Section, c.Property); err != nil {
			return "failed: " + err.Error()
		}
		return StatusUnset

	case ChangeAdd:
		_, present, err := m.Get(c.Section, c.Property)
		if err != nil {
			return "failed: " + err.Error()
		}
		if present {
			return StatusEntryExists
		}
		if err := m.Set(c.Section, c.Property, c.Value); err != nil {
			return "failed: " + err.Error()
		}
		return StatusSet

	case ChangeSetIfValue:
		current, present, err := m.Get(c.Section, c.Property)
		if err != nil {
			return "failed: " + err.Error()
		}
		if !present || current != c.Expected {
			return StatusNotChanged
		}
		if err := m.Set(c.Section, c.Property, c.Value); err != nil {
			return "failed: " + err.Error()
		}
		return StatusSet

	default:
		return fmt.Sprintf("failed: unknown change type %q", c.Type)
	}
}

// Int64 returns a pointer to n, for building States literals.
func Int64(n int64) *int64 { return &n }

// Int returns a pointer to n, for building States literals.
func Int(n int) *int { return &n }
