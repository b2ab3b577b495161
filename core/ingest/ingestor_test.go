package ingest

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
	nextID  int64
	tracks  map[int64]*model.Track
	deleted []int64
}

func newFakeTrackRepo() *fakeTrackRepo {
	return &fakeTrackRepo{tracks: make(map[int64]*model.Track)}
}

func (f *fakeTrackRepo) CreateTrack(track *model.Track) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *track
	cp.ID = f.nextID
	f.tracks[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeTrackRepo) GetTrackByID(id int64) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTrackRepo) DeleteTrack(trackID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracks, trackID)
	f.deleted = append(f.deleted, trackID)
	return nil
}

// fakeStore 把内联写入反映回曲目行，模拟真实存储门面与仓库的耦合
type fakeStore struct {
	storage.Facade
	repo   *fakeTrackRepo
	putErr error
}

func (f *fakeStore) PutInline(ctx context.Context, trackID int64, data []byte, mimeType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	if t, ok := f.repo.tracks[trackID]; ok {
		t.HasInlineAudio = true
		t.InlineMimeType = mimeType
	}
	return nil
}

func newTestIngestor() (*Ingestor, *fakeTrackRepo, *fakeStore, *[]int64) {
	repo := newFakeTrackRepo()
	store := &fakeStore{repo: repo}
	var dispatched []int64
	var mu sync.Mutex
	g := NewIngestor(repo, store, func(trackID int64) {
		mu.Lock()
		defer mu.Unlock()
		dispatched = append(dispatched, trackID)
	})
	return g, repo, store, &dispatched
}

func TestCreateInlineSetsSinglePointer(t *testing.T) {
	g, _, _, dispatched := newTestIngestor()

	track, err := g.CreateInline(context.Background(), 1, InlineRequest{
		Title:    "Song",
		Audio:    []byte("audio-bytes"),
		MimeType: "audio/mpeg",
	})
	require.NoError(t, err)
	require.NotNil(t, track)

	// 恰好一个存储指针
	assert.True(t, track.HasInlineAudio)
	assert.Empty(t, track.ObjectKey)
	assert.Equal(t, model.TranscriptionPending, track.TranscriptionStatus)
	assert.Equal(t, []int64{track.ID}, *dispatched)
}

func TestCreateInlineRollsBackOnStorageFailure(t *testing.T) {
	g, repo, store, dispatched := newTestIngestor()
	store.putErr = storage.ErrPayloadTooLarge

	_, err := g.CreateInline(context.Background(), 1, InlineRequest{
		Title: "Song",
		Audio: []byte("too big"),
	})
	require.ErrorIs(t, err, storage.ErrPayloadTooLarge)

	// 元数据行已回滚，转写未派发
	assert.Equal(t, []int64{1}, repo.deleted)
	assert.Empty(t, *dispatched)
}

func TestCreateFromCloudKey(t *testing.T) {
	g, _, _, dispatched := newTestIngestor()

	track, err := g.CreateFromCloudKey(context.Background(), 1, CloudRequest{
		Title:     "Cloud Song",
		ObjectKey: "audio/1/abcd1234_song.mp3",
	})
	require.NoError(t, err)
	require.NotNil(t, track)

	assert.Equal(t, "audio/1/abcd1234_song.mp3", track.ObjectKey)
	assert.False(t, track.HasInlineAudio)
	assert.Equal(t, []int64{track.ID}, *dispatched)
}

func TestCreateFromCloudKeyRejectsEmptyKey(t *testing.T) {
	g, _, _, dispatched := newTestIngestor()

	_, err := g.CreateFromCloudKey(context.Background(), 1, CloudRequest{Title: "Song"})
	assert.ErrorIs(t, err, ErrEmptyObjectKey)
	assert.Empty(t, *dispatched)
}

func TestCreateBatchIsolatesFailures(t *testing.T) {
	g, _, _, _ := newTestIngestor()

	results := g.CreateBatch(context.Background(), 1, []CloudRequest{
		{Title: "ok-1", ObjectKey: "audio/1/a_1.mp3"},
		{Title: "bad", ObjectKey: ""},
		{Title: "ok-2", ObjectKey: "audio/1/b_2.mp3"},
	})
	require.Len(t, results, 3)

	assert.NotNil(t, results[0].Track)
	assert.Empty(t, results[0].Error)

	assert.Nil(t, results[1].Track)
	assert.NotEmpty(t, results[1].Error)

	assert.NotNil(t, results[2].Track)
	assert.Empty(t, results[2].Error)
}
