package cluster

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/faceindex/internal/models"
)

// NoisePolicy decides what happens to faces the partition marks as noise.
type NoisePolicy string

const (
	// NoiseUnassigned keeps noise faces persisted without a person.
	NoiseUnassigned NoisePolicy = "unassigned"
	// NoiseSingleton creates a one-face person per noise face.
	NoiseSingleton NoisePolicy = "singleton"
	// NoiseDrop deletes noise faces when the run completes.
	NoiseDrop NoisePolicy = "drop"
)

// ParseNoisePolicy validates a configured policy string.
func ParseNoisePolicy(s string) (NoisePolicy, error) {
	switch NoisePolicy(s) {
	case NoiseUnassigned, NoiseSingleton, NoiseDrop:
		return NoisePolicy(s), nil
	case "":
		return NoiseUnassigned, nil
	}
	return "", fmt.Errorf("unknown noise policy %q", s)
}

// Member is one face instance fed into reconciliation: its identity, its
// previous person assignment (nil before the first clustering pass), and
// the thumbnail used when it becomes a person's representative.
type Member struct {
	FaceID       uuid.UUID
	PersonID     *uuid.UUID
	ThumbnailRef string
}

// Result is one reconciliation pass: persons to create, the full
// face-to-person assignment map, and faces left without a person.
type Result struct {
	NewPersons  []models.Person
	Assignments map[uuid.UUID]uuid.UUID
	Unassigned  []uuid.UUID
	// Clusters is the number of distinct clusters in the partition
	// (noise excluded).
	Clusters int
}

// Reconcile maps a fresh partition onto existing person records. Labels are
// not stable across clustering runs, so each cluster is matched to the
// existing person that held a majority of its members; clusters without a
// majority owner become new persons. Noise faces are handled per policy.
func Reconcile(videoID uuid.UUID, members []Member, labels []int, existing []models.Person, policy NoisePolicy) Result {
	res := Result{
		Assignments: make(map[uuid.UUID]uuid.UUID),
	}

	existingByID := make(map[uuid.UUID]*models.Person, len(existing))
	nextLabel := 0
	for i := range existing {
		p := &existing[i]
		existingByID[p.ID] = p
		if p.ClusterLabel >= nextLabel {
			nextLabel = p.ClusterLabel + 1
		}
	}

	// Collect cluster members in label order.
	clusters := make(map[int][]int)
	maxLabel := -1
	for i, label := range labels {
		if label == Noise {
			continue
		}
		clusters[label] = append(clusters[label], i)
		if label > maxLabel {
			maxLabel = label
		}
	}
	res.Clusters = len(clusters)

	newPerson := func(rep Member) *models.Person {
		p := models.Person{
			ID:           uuid.New(),
			VideoID:      videoID,
			ClusterLabel: nextLabel,
			Name:         fmt.Sprintf("Person %d", nextLabel+1),
			ThumbnailRef: rep.ThumbnailRef,
		}
		nextLabel++
		res.NewPersons = append(res.NewPersons, p)
		return &res.NewPersons[len(res.NewPersons)-1]
	}

	for label := 0; label <= maxLabel; label++ {
		idxs, ok := clusters[label]
		if !ok {
			continue
		}

		// Majority vote over previous assignments.
		votes := make(map[uuid.UUID]int)
		for _, i := range idxs {
			if pid := members[i].PersonID; pid != nil {
				if _, known := existingByID[*pid]; known {
					votes[*pid]++
				}
			}
		}
		var target uuid.UUID
		found := false
		for pid, n := range votes {
			if n*2 > len(idxs) {
				target = pid
				found = true
				break
			}
		}
		if !found {
			target = newPerson(members[idxs[0]]).ID
		}

		for _, i := range idxs {
			res.Assignments[members[i].FaceID] = target
		}
	}

	for i, label := range labels {
		if label != Noise {
			continue
		}
		switch policy {
		case NoiseSingleton:
			p := newPerson(members[i])
			res.Assignments[members[i].FaceID] = p.ID
		default:
			res.Unassigned = append(res.Unassigned, members[i].FaceID)
		}
	}

	return res
}
