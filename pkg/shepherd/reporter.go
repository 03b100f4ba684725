package shepherd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
)

// Reporter writes what a storage node knows into the catalog: its
// heartbeat on the registry entry and the state of its replicas in the
// locations section of each file.
type Reporter struct {
	lib       catalog.Librarian
	serviceID string
	now       func() time.Time
}

// NewReporter creates a reporter for the node serviceID.
func NewReporter(lib catalog.Librarian, serviceID string) *Reporter {
	return &Reporter{lib: lib, serviceID: serviceID, now: time.Now}
}

// ServiceID returns the node the reporter writes for.
func (r *Reporter) ServiceID() string {
	return r.serviceID
}

func (r *Reporter) modify(ctx context.Context, change catalog.Change, want ...string) (string, error) {
	res, err := r.lib.ModifyMetadata(ctx, map[string]catalog.Change{"c": change})
	if err != nil {
		return "", err
	}
	status := res["c"]
	for _, w := range want {
		if status == w {
			return status, nil
		}
	}
	return status, fmt.Errorf("%s %s/%s on %s: %s", change.Type, change.Section, change.Property, change.GUID, status)
}

// Heartbeat records the current time as the node's heartbeat.
func (r *Reporter) Heartbeat(ctx context.Context) error {
	_, err := r.modify(ctx, catalog.Change{
		GUID:     catalog.ShepherdRegistryGUID,
		Type:     catalog.ChangeSet,
		Section:  catalog.SectionHeartbeats,
		Property: r.serviceID,
		Value:    strconv.FormatInt(r.now().Unix(), 10),
	}, catalog.StatusSet)
	return err
}

// Withdraw marks the node as not alive.
func (r *Reporter) Withdraw(ctx context.Context) error {
	_, err := r.modify(ctx, catalog.Change{
		GUID:     catalog.ShepherdRegistryGUID,
		Type:     catalog.ChangeSet,
		Section:  catalog.SectionHeartbeats,
		Property: r.serviceID,
		Value:    "0",
	}, catalog.StatusSet)
	return err
}

func (r *Reporter) location(referenceID string) string {
	return catalog.Location{ServiceID: r.serviceID, ReferenceID: referenceID}.String()
}

// AddLocation records a new replica of guid as creating.
func (r *Reporter) AddLocation(ctx context.Context, guid, referenceID string) error {
	_, err := r.modify(ctx, catalog.Change{
		GUID:     guid,
		Type:     catalog.ChangeAdd,
		Section:  catalog.SectionLocations,
		Property: r.location(referenceID),
		Value:    string(catalog.ReplicaCreating),
	}, catalog.StatusSet)
	return err
}

// MarkAlive flips a replica from creating to alive. It reports false when
// the location is gone or not in the creating state anymore.
func (r *Reporter) MarkAlive(ctx context.Context, guid, referenceID string) (bool, error) {
	status, err := r.modify(ctx, catalog.Change{
		GUID:     guid,
		Type:     catalog.ChangeSetIfValue,
		Section:  catalog.SectionLocations,
		Property: r.location(referenceID),
		Value:    string(catalog.ReplicaAlive),
		Expected: string(catalog.ReplicaCreating),
	}, catalog.StatusSet, catalog.StatusNotChanged, catalog.StatusNoSuchGUID)
	if err != nil {
		return false, err
	}
	return status == catalog.StatusSet, nil
}

// RemoveLocation forgets a replica. A missing entry is not an error.
func (r *Reporter) RemoveLocation(ctx context.Context, guid, referenceID string) error {
	_, err := r.modify(ctx, catalog.Change{
		GUID:     guid,
		Type:     catalog.ChangeUnset,
		Section:  catalog.SectionLocations,
		Property: r.location(referenceID),
	}, catalog.StatusUnset, catalog.StatusNoSuchGUID)
	return err
}

// ReplicaState returns the catalog state of one replica and whether the
// file entry still lists it.
func (r *Reporter) ReplicaState(ctx context.Context, guid, referenceID string) (catalog.ReplicaState, *catalog.Metadata, bool, error) {
	got, err := r.lib.Get(ctx, []string{guid}, []catalog.Filter{
		{Section: catalog.SectionLocations},
		{Section: catalog.SectionStates},
	})
	if err != nil {
		return "", nil, false, err
	}
	md, ok := got[guid]
	if !ok {
		return "", nil, false, nil
	}
	state, ok := md.Locations[catalog.Location{ServiceID: r.serviceID, ReferenceID: referenceID}]
	return state, md, ok, nil
}

// Run sends a heartbeat every interval until ctx is cancelled, then
// withdraws the node.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	if err := r.Heartbeat(ctx); err != nil {
		logger.Warn("Shepherd %s: heartbeat failed: %v", r.serviceID, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			withdrawCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := r.Withdraw(withdrawCtx); err != nil {
				logger.Warn("Shepherd %s: withdraw failed: %v", r.serviceID, err)
			}
			return nil
		case <-ticker.C:
			if err := r.Heartbeat(ctx); err != nil {
				logger.Warn("Shepherd %s: heartbeat failed: %v", r.serviceID, err)
			}
		}
	}
}
