package cluster

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceindex/internal/models"
)

func newMembers(n int) []Member {
	members := make([]Member, n)
	for i := range members {
		members[i] = Member{FaceID: uuid.New()}
	}
	return members
}

func TestReconcileFirstPass(t *testing.T) {
	videoID := uuid.New()
	members := newMembers(4)
	labels := []int{0, 0, 1, 1}

	res := Reconcile(videoID, members, labels, nil, NoiseUnassigned)

	require.Len(t, res.NewPersons, 2)
	assert.Equal(t, 2, res.Clusters)
	assert.Equal(t, "Person 1", res.NewPersons[0].Name)
	assert.Equal(t, "Person 2", res.NewPersons[1].Name)
	assert.Equal(t, 0, res.NewPersons[0].ClusterLabel)
	assert.Equal(t, 1, res.NewPersons[1].ClusterLabel)
	assert.Equal(t, videoID, res.NewPersons[0].VideoID)

	assert.Equal(t, res.NewPersons[0].ID, res.Assignments[members[0].FaceID])
	assert.Equal(t, res.NewPersons[0].ID, res.Assignments[members[1].FaceID])
	assert.Equal(t, res.NewPersons[1].ID, res.Assignments[members[2].FaceID])
	assert.Equal(t, res.NewPersons[1].ID, res.Assignments[members[3].FaceID])
	assert.Empty(t, res.Unassigned)
}

func TestReconcileMajorityKeepsExistingPerson(t *testing.T) {
	videoID := uuid.New()
	existing := models.Person{
		ID:           uuid.New(),
		VideoID:      videoID,
		ClusterLabel: 0,
		Name:         "Alice",
	}

	// Three of four cluster members previously belonged to Alice.
	members := newMembers(4)
	for i := 0; i < 3; i++ {
		pid := existing.ID
		members[i].PersonID = &pid
	}
	labels := []int{0, 0, 0, 0}

	res := Reconcile(videoID, members, labels, []models.Person{existing}, NoiseUnassigned)

	assert.Empty(t, res.NewPersons)
	for _, m := range members {
		assert.Equal(t, existing.ID, res.Assignments[m.FaceID])
	}
}

func TestReconcileNoMajorityCreatesNewPerson(t *testing.T) {
	videoID := uuid.New()
	a := models.Person{ID: uuid.New(), VideoID: videoID, ClusterLabel: 0, Name: "Person 1"}
	b := models.Person{ID: uuid.New(), VideoID: videoID, ClusterLabel: 1, Name: "Person 2"}

	// Split two/two: neither existing person holds a majority.
	members := newMembers(4)
	aid, bid := a.ID, b.ID
	members[0].PersonID = &aid
	members[1].PersonID = &aid
	members[2].PersonID = &bid
	members[3].PersonID = &bid
	labels := []int{0, 0, 0, 0}

	res := Reconcile(videoID, members, labels, []models.Person{a, b}, NoiseUnassigned)

	require.Len(t, res.NewPersons, 1)
	// Naming continues past the existing labels.
	assert.Equal(t, 2, res.NewPersons[0].ClusterLabel)
	assert.Equal(t, "Person 3", res.NewPersons[0].Name)
}

func TestReconcileNoisePolicies(t *testing.T) {
	videoID := uuid.New()
	members := newMembers(3)
	members[2].ThumbnailRef = "thumbs/noise.jpg"
	labels := []int{0, 0, Noise}

	t.Run("unassigned", func(t *testing.T) {
		res := Reconcile(videoID, members, labels, nil, NoiseUnassigned)
		require.Len(t, res.NewPersons, 1)
		assert.Equal(t, []uuid.UUID{members[2].FaceID}, res.Unassigned)
		_, assigned := res.Assignments[members[2].FaceID]
		assert.False(t, assigned)
	})

	t.Run("singleton", func(t *testing.T) {
		res := Reconcile(videoID, members, labels, nil, NoiseSingleton)
		require.Len(t, res.NewPersons, 2)
		assert.Empty(t, res.Unassigned)
		assert.Equal(t, res.NewPersons[1].ID, res.Assignments[members[2].FaceID])
		assert.Equal(t, "thumbs/noise.jpg", res.NewPersons[1].ThumbnailRef)
	})

	t.Run("drop", func(t *testing.T) {
		res := Reconcile(videoID, members, labels, nil, NoiseDrop)
		require.Len(t, res.NewPersons, 1)
		assert.Equal(t, []uuid.UUID{members[2].FaceID}, res.Unassigned)
	})
}

func TestReconcileIdempotent(t *testing.T) {
	// Running reconciliation twice over the same partition must not create
	// duplicate persons: the second pass maps every cluster back onto the
	// person created by the first.
	videoID := uuid.New()
	members := newMembers(4)
	labels := []int{0, 0, 1, 1}

	first := Reconcile(videoID, members, labels, nil, NoiseUnassigned)
	require.Len(t, first.NewPersons, 2)

	for i := range members {
		pid := first.Assignments[members[i].FaceID]
		members[i].PersonID = &pid
	}

	second := Reconcile(videoID, members, labels, first.NewPersons, NoiseUnassigned)
	assert.Empty(t, second.NewPersons)
	assert.Equal(t, first.Assignments, second.Assignments)
}

func TestParseNoisePolicy(t *testing.T) {
	p, err := ParseNoisePolicy("")
	require.NoError(t, err)
	assert.Equal(t, NoiseUnassigned, p)

	p, err = ParseNoisePolicy("singleton")
	require.NoError(t, err)
	assert.Equal(t, NoiseSingleton, p)

	_, err = ParseNoisePolicy("bogus")
	assert.Error(t, err)
}
