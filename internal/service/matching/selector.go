package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/config"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/repository"
)

// Candidate is a donor the selector considers reachable for a request,
// with the computed distance used for ranking and the donor-facing
// alert.
type Candidate struct {
	Donor      *model.Donor
	DistanceKM float64
}

// Selector produces the ordered candidate list for one wave. It never
// retries or widens the radius itself; pool expansion is the
// scheduler's decision.
type Selector struct {
	donors repository.DonorRepository
	cfg    config.MatchingConfig
}

func NewSelector(donors repository.DonorRepository, cfg config.MatchingConfig) *Selector {
	return &Selector{donors: donors, cfg: cfg}
}

// Select returns eligible donors within radiusKm of the request, sorted
// by ascending distance with longer-idle donors first on ties. Donors
// in exclude were already notified this episode and are skipped. An
// empty result is a normal outcome.
//
// Strict waves require an idle buffer on top of the medical cooldown;
// relaxed waves drop the buffer. The cooldown itself is never relaxed.
func (s *Selector) Select(ctx context.Context, req *model.BloodRequest, radiusKm float64, exclude map[uuid.UUID]bool, relaxed bool) ([]Candidate, error) {
	now := time.Now()

	cutoff := now.Add(-s.cfg.Cooldown())
	if !relaxed {
		cutoff = now.Add(-(s.cfg.Cooldown() + s.cfg.PreferredIdle()))
	}

	excludeIDs := make([]uuid.UUID, 0, len(exclude))
	for id := range exclude {
		excludeIDs = append(excludeIDs, id)
	}

	donors, err := s.donors.FindCompatible(ctx, model.CompatibleDonorTypes(req.BloodType), req.Latitude, req.Longitude, radiusKm, cutoff, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query compatible donors: %w", err)
	}

	// The store filters too, but eligibility and compatibility are
	// re-checked here so a stale read can never surface an unavailable
	// or cooling-down donor.
	candidates := make([]Candidate, 0, len(donors))
	for _, d := range donors {
		if !d.Eligible(s.cfg.Cooldown(), now) {
			continue
		}
		if !d.BloodType.CanDonateTo(req.BloodType) {
			continue
		}
		dist := HaversineKM(req.Latitude, req.Longitude, d.Latitude, d.Longitude)
		if dist > radiusKm {
			continue
		}
		candidates = append(candidates, Candidate{Donor: d, DistanceKM: dist})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKM != candidates[j].DistanceKM {
			return candidates[i].DistanceKM < candidates[j].DistanceKM
		}
		return olderDonation(candidates[i].Donor, candidates[j].Donor)
	})

	return candidates, nil
}

// olderDonation ranks the donor who has waited longer since their last
// donation first; donors who never donated rank earliest of all.
func olderDonation(a, b *model.Donor) bool {
	switch {
	case a.LastDonation == nil:
		return b.LastDonation != nil
	case b.LastDonation == nil:
		return false
	default:
		return a.LastDonation.Before(*b.LastDonation)
	}
}
