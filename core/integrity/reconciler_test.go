package integrity

import (
	"context"
	"sync"
	"testing"

	"VoxFM/model"
	"VoxFM/repository"
	"VoxFM/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrackRepo struct {
	repository.TrackRepository
	mu      sync.Mutex
	tracks  map[int64]*model.Track
	deleted []int64
}

func newFakeTrackRepo(tracks ...*model.Track) *fakeTrackRepo {
	f := &fakeTrackRepo{tracks: make(map[int64]*model.Track)}
	for _, t := range tracks {
		cp := *t
		f.tracks[cp.ID] = &cp
	}
	return f
}

func (f *fakeTrackRepo) ListCloudTracksByUserID(userID int64) ([]*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Track
	for _, t := range f.tracks {
		if t.UserID == userID && t.ObjectKey != "" {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTrackRepo) DeleteTrack(trackID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracks, trackID)
	f.deleted = append(f.deleted, trackID)
	return nil
}

// fakeStore 按对象键预置可读性
type fakeStore struct {
	storage.Facade
	available  bool
	unreadable map[string]bool
	probed     []string
}

func (f *fakeStore) CloudAvailable() bool { return f.available }

func (f *fakeStore) ProbeReadable(ctx context.Context, ptr storage.Pointer) bool {
	f.probed = append(f.probed, ptr.ObjectKey)
	return !f.unreadable[ptr.ObjectKey]
}

func TestVerifyCloudTracksDeletesUnreadable(t *testing.T) {
	repo := newFakeTrackRepo(
		&model.Track{ID: 1, UserID: 1, Title: "good-1", ObjectKey: "audio/1/a.mp3"},
		&model.Track{ID: 2, UserID: 1, Title: "broken", ObjectKey: "audio/1/b.mp3"},
		&model.Track{ID: 3, UserID: 1, Title: "good-2", ObjectKey: "audio/1/c.mp3"},
	)
	store := &fakeStore{
		available:  true,
		unreadable: map[string]bool{"audio/1/b.mp3": true},
	}

	r := NewReconciler(repo, store)
	report, err := r.VerifyCloudTracks(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Deleted)
	require.Len(t, report.Removed, 1)
	assert.Equal(t, int64(2), report.Removed[0].ID)
	assert.Equal(t, "broken", report.Removed[0].Title)

	// 坏的行已删，好的行原样保留
	assert.Equal(t, []int64{2}, repo.deleted)
	assert.Len(t, repo.tracks, 2)
	assert.Contains(t, repo.tracks, int64(1))
	assert.Contains(t, repo.tracks, int64(3))
}

func TestVerifyCloudTracksAllHealthy(t *testing.T) {
	repo := newFakeTrackRepo(
		&model.Track{ID: 1, UserID: 1, ObjectKey: "audio/1/a.mp3"},
		&model.Track{ID: 2, UserID: 1, ObjectKey: "audio/1/b.mp3"},
	)
	store := &fakeStore{available: true, unreadable: map[string]bool{}}

	report, err := NewReconciler(repo, store).VerifyCloudTracks(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Zero(t, report.Deleted)
	assert.Empty(t, report.Removed)
	assert.Empty(t, repo.deleted)
}

func TestVerifyCloudTracksWithoutCloudBackend(t *testing.T) {
	repo := newFakeTrackRepo(&model.Track{ID: 1, UserID: 1, ObjectKey: "audio/1/a.mp3"})
	store := &fakeStore{available: false}

	report, err := NewReconciler(repo, store).VerifyCloudTracks(context.Background(), 1)
	require.NoError(t, err)

	// 云存储未配置时不做任何可读性判断
	assert.Zero(t, report.Checked)
	assert.Zero(t, report.Deleted)
	assert.Empty(t, store.probed)
	assert.Empty(t, repo.deleted)
}
