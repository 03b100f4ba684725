package bartender

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/catalog"
	"github.com/marmos91/bartender/pkg/shepherd"
)

var errNoReplica = errors.New("no replica")

// ============================================================================
// Shepherd calls
// ============================================================================

func (s *Service) callShepherd(ctx context.Context, method, serviceID string, fn func(ctx context.Context, node shepherd.Shepherd) (*shepherd.TransferHandle, error)) (*shepherd.TransferHandle, error) {
	node, err := s.shepherds.GetShepherd(serviceID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := upstreamContext(ctx, s.config.ShepherdTimeout)
	defer cancel()

	start := time.Now()
	handle, err := fn(ctx, node)
	s.metrics.RecordUpstreamCall("shepherd", method, time.Since(start), err)
	if err != nil {
		logger.Debug("Shepherd %s %s failed: %v", serviceID, method, err)
		return nil, err
	}
	return handle, nil
}

// aliveServices reads the Shepherd registry and returns the IDs of every
// service eligible for a new replica.
func (s *Service) aliveServices(ctx context.Context, excluded map[string]struct{}) ([]string, error) {
	registry, err := s.getEntries(ctx, []string{catalog.ShepherdRegistryGUID}, []catalog.Filter{{Section: catalog.SectionHeartbeats}})
	if err != nil {
		return nil, err
	}

	md := registry[catalog.ShepherdRegistryGUID]
	if md == nil {
		return nil, nil
	}

	now := s.now()
	maxAge := int64(s.config.HeartbeatTimeout / time.Second)

	var services []string
	for serviceID, beat := range md.Heartbeats {
		if beat <= 0 {
			continue
		}
		if maxAge > 0 && now.Unix()-beat > maxAge {
			logger.Debug("Skipping shepherd %s: last heartbeat %s ago", serviceID, heartbeatAge(now, beat))
			continue
		}
		if _, skip := excluded[serviceID]; skip {
			continue
		}
		services = append(services, serviceID)
	}
	return services, nil
}

// placement is the outcome of provisioning or locating one replica.
type placement struct {
	status string
	handle *shepherd.TransferHandle
}

// selectForWrite provisions one new replica of guid on a random live
// Shepherd outside excluded. It makes a single Put attempt.
func (s *Service) selectForWrite(ctx context.Context, guid string, states catalog.States, protocols []string, excluded map[string]struct{}) placement {
	services, err := s.aliveServices(ctx, excluded)
	if err != nil {
		return placement{status: putError(err)}
	}
	if len(services) == 0 {
		return placement{status: StatusNoShepherd}
	}

	serviceID := services[rand.IntN(len(services))]
	req := shepherd.PutRequest{
		GUID:         guid,
		ChecksumType: states.ChecksumType,
		Checksum:     states.Checksum,
		Protocols:    protocols,
	}
	if states.Size != nil {
		req.Size = *states.Size
	}

	handle, err := s.callShepherd(ctx, "Put", serviceID, func(ctx context.Context, node shepherd.Shepherd) (*shepherd.TransferHandle, error) {
		return node.Put(ctx, req)
	})
	if err != nil {
		return placement{status: putError(err)}
	}

	logger.Debug("Placed replica of %s on %s (%s)", guid, serviceID, handle.ReferenceID)
	return placement{status: StatusDone, handle: handle}
}

// selectForRead asks the holders of alive replicas for a retrieval
// location, in random order, until one answers.
func (s *Service) selectForRead(ctx context.Context, md *catalog.Metadata, protocols []string) placement {
	candidates := md.AliveLocations()
	if len(candidates) == 0 {
		return placement{status: StatusNoValidReplica}
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	lastErr := errNoReplica
	for _, loc := range candidates {
		handle, err := s.callShepherd(ctx, "Get", loc.ServiceID, func(ctx context.Context, node shepherd.Shepherd) (*shepherd.TransferHandle, error) {
			return node.Get(ctx, shepherd.GetRequest{ReferenceID: loc.ReferenceID, Protocols: protocols})
		})
		if err == nil {
			return placement{status: StatusDone, handle: handle}
		}
		lastErr = err
	}
	return placement{status: turlError(lastErr)}
}

// ============================================================================
// addReplica
// ============================================================================

// AddReplicaRequest asks for one more replica of an existing file.
type AddReplicaRequest struct {
	GUID      string
	Protocols []string
}

// ReplicaResult is the outcome of addReplica and getFile.
type ReplicaResult struct {
	Status      string
	TransferURL string
	Protocol    string
}

func (p placement) replicaResult() ReplicaResult {
	res := ReplicaResult{Status: p.status}
	if p.handle != nil {
		res.TransferURL = p.handle.TransferURL
		res.Protocol = p.handle.Protocol
	}
	return res
}

// AddReplica provisions an additional replica of each file on a Shepherd
// that does not hold one yet.
//
// Statuses: done, not found, is not a file, denied, no shepherd found,
// put error: <err>.
func (s *Service) AddReplica(ctx context.Context, requests map[string]AddReplicaRequest) map[string]ReplicaResult {
	b := s.begin("addReplica", len(requests))
	defer b.end()

	results := make(map[string]ReplicaResult, len(requests))
	finish := func(id string, res ReplicaResult) {
		results[id] = res
		b.result(res.Status)
	}

	guids := make([]string, 0, len(requests))
	for _, req := range requests {
		guids = append(guids, req.GUID)
	}
	entries, err := s.getEntries(ctx, guids, []catalog.Filter{
		{Section: catalog.SectionEntry},
		{Section: catalog.SectionLocations},
		{Section: catalog.SectionStates},
		{Section: catalog.SectionPolicy},
	})
	if err != nil {
		for id := range requests {
			finish(id, ReplicaResult{Status: upstreamFailure(err)})
		}
		return results
	}

	for id, req := range requests {
		res := safely("addReplica", id, func() ReplicaResult {
			return ReplicaResult{Status: StatusInternalError}
		}, func() ReplicaResult {
			md := entries[req.GUID]
			switch {
			case md == nil:
				return ReplicaResult{Status: StatusNotFound}
			case !md.IsFile():
				return ReplicaResult{Status: StatusIsNotAFile}
			}
			if s.decide(ctx, md, ActionModifyStates) == Deny {
				return ReplicaResult{Status: StatusDenied}
			}
			return s.selectForWrite(ctx, req.GUID, md.States, req.Protocols, md.ReplicaServices()).replicaResult()
		})
		finish(id, res)
	}
	return results
}

// heartbeatAge formats the age of a heartbeat for log lines.
func heartbeatAge(now time.Time, beat int64) string {
	return strconv.FormatInt(now.Unix()-beat, 10) + "s"
}
