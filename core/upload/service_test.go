package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ssebide/music-platform/core/audio"
	"github.com/ssebide/music-platform/model"
	"github.com/ssebide/music-platform/repository"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == eventType {
			c++
		}
	}
	return c
}

type fakePublisher struct {
	mu      sync.Mutex
	objects []string
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, localPath, objectName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.objects = append(p.objects, objectName)
	return "mem://" + objectName, nil
}

// threeSeconds pretends every file is three seconds long.
var threeSeconds = audio.ProberFunc(func(context.Context, string) (audio.ProbeResult, error) {
	return audio.ProbeResult{Format: "stub", Frames: 3 * 44100, TimeBase: audio.TimeBase{Numer: 1, Denom: 44100}}, nil
})

type fixture struct {
	svc       *Service
	repo      repository.UploadRepository
	store     *ChunkStore
	audioDir  string
	notifier  *recordingNotifier
	publisher *fakePublisher
}

func newFixture(t *testing.T, prober audio.Prober) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, prober, repository.NewMemoryUploadRepository())
}

func newFixtureWithRepo(t *testing.T, prober audio.Prober, repo repository.UploadRepository) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		repo:      repo,
		store:     NewChunkStore(filepath.Join(root, "temp")),
		audioDir:  filepath.Join(root, "audio"),
		notifier:  &recordingNotifier{},
		publisher: &fakePublisher{},
	}
	f.svc = NewService(Deps{
		Repo:          f.repo,
		Store:         f.store,
		Assembler:     NewAssembler(f.store, f.audioDir),
		Prober:        prober,
		Notifier:      f.notifier,
		Publisher:     f.publisher,
		PublishPrefix: "audio/",
	})
	return f
}

func (f *fixture) submit(t *testing.T, userID int64, trackID, fileName string, idx, total int, payload string) *ChunkResult {
	t.Helper()
	res, err := f.svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: userID, FileName: fileName, ChunkIndex: idx, TotalChunks: total,
		TrackID: trackID, Payload: []byte(payload),
	})
	require.NoError(t, err)
	return res
}

func TestSubmitChunksAssemblesInOrder(t *testing.T) {
	f := newFixture(t, threeSeconds)
	ctx := context.Background()

	first := f.submit(t, 1, "", "song.mp3", 0, 3, "A")
	id := first.TrackID
	require.NotEmpty(t, id)
	assert.Equal(t, model.TrackStatusIncomplete, first.Status)

	second := f.submit(t, 1, id, "song.mp3", 1, 3, "B")
	assert.Equal(t, model.TrackStatusIncomplete, second.Status)
	assert.Equal(t, 2, second.UploadedChunks)

	last := f.submit(t, 1, id, "song.mp3", 2, 3, "C")
	assert.Equal(t, model.TrackStatusComplete, last.Status)
	assert.Equal(t, int64(3), last.DurationSeconds)

	data, err := os.ReadFile(filepath.Join(f.audioDir, "song.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(data))

	_, err = os.Stat(f.store.Workspace(id))
	assert.True(t, os.IsNotExist(err), "workspace removed")

	track, err := f.repo.GetTrack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TrackStatusComplete, track.UploadStatus)
	assert.Equal(t, int64(3), track.DurationSeconds)

	af, err := f.repo.GetProgress(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, af, "progress row dropped on finalization")

	assert.Equal(t, 3, f.notifier.count(EventChunkReceived))
	assert.Equal(t, 1, f.notifier.count(EventCompleted))
	assert.Equal(t, []string{"audio/song.mp3"}, f.publisher.objects)
}

func TestSubmitManyChunksMatchesConcatenation(t *testing.T) {
	for _, n := range []int{1, 2, 7, 12} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			f := newFixture(t, threeSeconds)
			var want bytes.Buffer
			id := ""
			var res *ChunkResult
			for i := 0; i < n; i++ {
				payload := fmt.Sprintf("<%d:%s>", i, strings.Repeat("x", i+1))
				want.WriteString(payload)
				res = f.submit(t, 9, id, "mix.wav", i, n, payload)
				id = res.TrackID
			}
			assert.Equal(t, model.TrackStatusComplete, res.Status)
			assert.GreaterOrEqual(t, res.DurationSeconds, int64(0))

			data, err := os.ReadFile(filepath.Join(f.audioDir, "mix.wav"))
			require.NoError(t, err)
			assert.Equal(t, want.String(), string(data))
		})
	}
}

func TestChunksOutOfOrderAfterFirst(t *testing.T) {
	f := newFixture(t, threeSeconds)
	id := f.submit(t, 1, "", "a.mp3", 0, 4, "0").TrackID
	assert.Equal(t, model.TrackStatusIncomplete, f.submit(t, 1, id, "a.mp3", 3, 4, "3").Status)
	assert.Equal(t, model.TrackStatusIncomplete, f.submit(t, 1, id, "a.mp3", 1, 4, "1").Status)
	assert.Equal(t, model.TrackStatusComplete, f.submit(t, 1, id, "a.mp3", 2, 4, "2").Status)

	data, err := os.ReadFile(filepath.Join(f.audioDir, "a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestResubmittedChunkOverwrites(t *testing.T) {
	f := newFixture(t, threeSeconds)
	ctx := context.Background()

	id := f.submit(t, 1, "", "song.mp3", 0, 3, "A").TrackID
	f.submit(t, 1, id, "song.mp3", 1, 3, "B")
	res := f.submit(t, 1, id, "song.mp3", 1, 3, "b")
	assert.Equal(t, 3, res.UploadedChunks, "attempts count every write")
	assert.Equal(t, 2, res.ReceivedChunks, "distinct indices unchanged")

	af, err := f.repo.GetProgress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkSet{0, 1}, af.ReceivedChunks)

	ws := f.store.Workspace(id)
	n, err := f.store.CountChunks(ws)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	chunk, err := os.ReadFile(f.store.ChunkPath(ws, 1))
	require.NoError(t, err)
	assert.Equal(t, "b", string(chunk))

	f.submit(t, 1, id, "song.mp3", 2, 3, "C")
	data, err := os.ReadFile(filepath.Join(f.audioDir, "song.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "AbC", string(data))
}

func TestChunkZeroAlwaysCreatesNewTrack(t *testing.T) {
	f := newFixture(t, threeSeconds)
	a := f.submit(t, 1, "", "song.mp3", 0, 2, "A")
	b := f.submit(t, 1, "", "song.mp3", 0, 2, "A")
	c := f.submit(t, 1, a.TrackID, "song.mp3", 0, 2, "A")
	assert.NotEqual(t, a.TrackID, b.TrackID)
	assert.NotEqual(t, a.TrackID, c.TrackID)

	uploads, err := f.svc.ListIncomplete(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, uploads, 3)
}

func TestMissingTrackReferenceWritesNothing(t *testing.T) {
	f := newFixture(t, threeSeconds)
	_, err := f.svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: 1, FileName: "song.mp3", ChunkIndex: 1, TotalChunks: 3, Payload: []byte("B"),
	})
	assert.ErrorIs(t, err, ErrMissingTrackReference)
	assert.ErrorIs(t, err, ErrValidation)

	_, statErr := os.Stat(f.store.Root())
	assert.True(t, os.IsNotExist(statErr), "no workspace root created")
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t, threeSeconds)
	cases := []struct {
		name string
		req  ChunkRequest
		want error
	}{
		{"empty name", ChunkRequest{FileName: "../..", TotalChunks: 1, Payload: []byte("x")}, ErrEmptyFileName},
		{"empty payload", ChunkRequest{FileName: "a.mp3", TotalChunks: 1}, ErrEmptyChunk},
		{"negative index", ChunkRequest{FileName: "a.mp3", ChunkIndex: -1, TotalChunks: 1, Payload: []byte("x")}, ErrInvalidChunkIndex},
		{"zero total", ChunkRequest{FileName: "a.mp3", TotalChunks: 0, Payload: []byte("x")}, ErrInvalidTotalChunks},
		{"huge total", ChunkRequest{FileName: "a.mp3", TotalChunks: 50_000_000, Payload: []byte("x")}, ErrInvalidTotalChunks},
		{"huge index", ChunkRequest{FileName: "a.mp3", ChunkIndex: MaxChunks, TotalChunks: 2, TrackID: "t", Payload: []byte("x")}, ErrInvalidChunkIndex},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitChunk(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPathTraversalStaysInsideRoots(t *testing.T) {
	f := newFixture(t, threeSeconds)
	res := f.submit(t, 1, "", "../../etc/passwd", 0, 1, "root:x:0:0")
	assert.Equal(t, model.TrackStatusComplete, res.Status)

	track, err := f.repo.GetTrack(context.Background(), res.TrackID)
	require.NoError(t, err)
	assert.Equal(t, "etcpasswd", track.FileName)
	assert.Equal(t, filepath.Join(f.audioDir, "etcpasswd"), track.FilePath)

	rel, err := filepath.Rel(f.audioDir, track.FilePath)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."))
}

func TestUnknownAndForeignTracks(t *testing.T) {
	f := newFixture(t, threeSeconds)
	id := f.submit(t, 1, "", "a.mp3", 0, 2, "A").TrackID

	_, err := f.svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: 2, FileName: "a.mp3", ChunkIndex: 1, TotalChunks: 2, TrackID: id, Payload: []byte("B"),
	})
	assert.ErrorIs(t, err, ErrTrackForbidden)

	_, err = f.svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: 1, FileName: "a.mp3", ChunkIndex: 1, TotalChunks: 2, TrackID: "nope", Payload: []byte("B"),
	})
	assert.ErrorIs(t, err, ErrTrackNotFound)

	_, err = f.svc.Progress(context.Background(), 2, id)
	assert.ErrorIs(t, err, ErrTrackForbidden)
}

func TestFinishedTrackRejectsChunks(t *testing.T) {
	f := newFixture(t, threeSeconds)
	id := f.submit(t, 1, "", "a.mp3", 0, 1, "A").TrackID

	_, err := f.svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: 1, FileName: "a.mp3", ChunkIndex: 1, TotalChunks: 2, TrackID: id, Payload: []byte("B"),
	})
	assert.ErrorIs(t, err, ErrTrackFinished)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProbeFailureLeavesTrackAssembled(t *testing.T) {
	f := newFixture(t, audio.NewDurationProber(""))
	ctx := context.Background()

	id := f.submit(t, 1, "", "broken.wav", 0, 2, "not a ").TrackID
	res, err := f.svc.SubmitChunk(ctx, ChunkRequest{
		UserID: 1, FileName: "broken.wav", ChunkIndex: 1, TotalChunks: 2, TrackID: id, Payload: []byte("riff file"),
	})
	require.ErrorIs(t, err, ErrUnprobeableMedia)
	require.NotNil(t, res)
	assert.Equal(t, model.TrackStatusAssembled, res.Status)

	dest := filepath.Join(f.audioDir, "broken.wav")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "not a riff file", string(data))

	track, err := f.repo.GetTrack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TrackStatusAssembled, track.UploadStatus)
	assert.NotEqual(t, model.TrackStatusComplete, track.UploadStatus)
	assert.Equal(t, 1, f.notifier.count(EventAssembled))
	assert.Empty(t, f.publisher.objects)

	uploads, err := f.svc.ListIncomplete(ctx, 1)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, model.TrackStatusAssembled, uploads[0].Status)

	// still unprobeable
	_, err = f.svc.Reprobe(ctx, id)
	assert.ErrorIs(t, err, ErrUnprobeableMedia)

	// operator replaces the file with valid audio
	writeTestWAV(t, dest, 8000, 8000*2)
	fixed, err := f.svc.Reprobe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TrackStatusComplete, fixed.Status)
	assert.Equal(t, int64(2), fixed.DurationSeconds)

	track, err = f.repo.GetTrack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TrackStatusComplete, track.UploadStatus)

	_, err = f.svc.Reprobe(ctx, id)
	assert.ErrorIs(t, err, ErrNotAssembled)
	_, err = f.svc.Reprobe(ctx, "missing")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestZeroLengthChunksNeverReachProbe(t *testing.T) {
	f := newFixture(t, audio.NewDurationProber(""))
	_, err := f.svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: 1, FileName: "empty.wav", TotalChunks: 1,
	})
	assert.ErrorIs(t, err, ErrEmptyChunk)
}

func TestRealWAVUploadProbesDuration(t *testing.T) {
	f := newFixture(t, audio.NewDurationProber(""))
	src := filepath.Join(t.TempDir(), "src.wav")
	writeTestWAV(t, src, 8000, 8000*5)
	raw, err := os.ReadFile(src)
	require.NoError(t, err)

	parts := splitN(raw, 4)
	id := ""
	var res *ChunkResult
	for i, p := range parts {
		res = f.submit(t, 3, id, "tone.wav", i, len(parts), string(p))
		id = res.TrackID
	}
	assert.Equal(t, model.TrackStatusComplete, res.Status)
	assert.Equal(t, int64(5), res.DurationSeconds)
}

func TestConcurrentSubmissionsAssembleOnce(t *testing.T) {
	f := newFixture(t, threeSeconds)
	const n = 16
	id := f.submit(t, 1, "", "race.mp3", 0, n, "00").TrackID

	var wg sync.WaitGroup
	results := make(chan *ChunkResult, n)
	errs := make(chan error, n)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.SubmitChunk(context.Background(), ChunkRequest{
				UserID: 1, FileName: "race.mp3", ChunkIndex: i, TotalChunks: n,
				TrackID: id, Payload: []byte(fmt.Sprintf("%02d", i)),
			})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	completed := 0
	for res := range results {
		if res.Status == model.TrackStatusComplete {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, f.notifier.count(EventCompleted))

	var want strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&want, "%02d", i)
	}
	data, err := os.ReadFile(filepath.Join(f.audioDir, "race.mp3"))
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))
}

func TestProgressSnapshot(t *testing.T) {
	f := newFixture(t, threeSeconds)
	ctx := context.Background()
	id := f.submit(t, 1, "", "a.mp3", 0, 4, "A").TrackID
	f.submit(t, 1, id, "a.mp3", 2, 4, "C")

	snap, err := f.svc.Progress(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.TrackStatusIncomplete, snap.Status)
	assert.Equal(t, 4, snap.TotalChunks)
	assert.Equal(t, model.ChunkSet{0, 2}, snap.ReceivedChunks)
	assert.Equal(t, []int{1, 3}, snap.MissingChunks)
	assert.Equal(t, 2, snap.MissingCount)
	assert.Equal(t, 50, snap.Percent)

	f.submit(t, 1, id, "a.mp3", 1, 4, "B")
	f.submit(t, 1, id, "a.mp3", 3, 4, "D")
	snap, err = f.svc.Progress(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, model.TrackStatusComplete, snap.Status)
	assert.Equal(t, 100, snap.Percent)
	assert.Equal(t, int64(3), snap.DurationSeconds)
}

func TestProgressListsBoundedMissingChunks(t *testing.T) {
	f := newFixture(t, threeSeconds)
	id := f.submit(t, 1, "", "long.mp3", 0, MaxChunks, "A").TrackID

	snap, err := f.svc.Progress(context.Background(), 1, id)
	require.NoError(t, err)
	assert.Len(t, snap.MissingChunks, maxListedMissing)
	assert.Equal(t, 1, snap.MissingChunks[0])
	assert.Equal(t, MaxChunks-1, snap.MissingCount)
	assert.Equal(t, 0, snap.Percent)
}

func TestPublishFailureDoesNotFailUpload(t *testing.T) {
	f := newFixture(t, threeSeconds)
	f.publisher.err = errors.New("bucket gone")
	res := f.submit(t, 1, "", "a.mp3", 0, 1, "A")
	assert.Equal(t, model.TrackStatusComplete, res.Status)
}

type failingRepo struct {
	repository.UploadRepository
}

func (failingRepo) UpsertProgress(context.Context, repository.ProgressUpdate) (*model.AudioFile, error) {
	return nil, errors.New("connection reset")
}

func TestLedgerFailureIsPersistenceError(t *testing.T) {
	root := t.TempDir()
	store := NewChunkStore(filepath.Join(root, "temp"))
	svc := NewService(Deps{
		Repo:      failingRepo{repository.NewMemoryUploadRepository()},
		Store:     store,
		Assembler: NewAssembler(store, filepath.Join(root, "audio")),
		Prober:    threeSeconds,
	})
	_, err := svc.SubmitChunk(context.Background(), ChunkRequest{
		UserID: 1, FileName: "a.mp3", TotalChunks: 2, Payload: []byte("A"),
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrValidation)
}

func writeTestWAV(t *testing.T, path string, sampleRate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, frames)
	for i := range data {
		data[i] = (i % 100) * 50
	}
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func splitN(b []byte, n int) [][]byte {
	size := (len(b) + n - 1) / n
	var out [][]byte
	for len(b) > 0 {
		if len(b) < size {
			size = len(b)
		}
		out = append(out, b[:size])
		b = b[size:]
	}
	return out
}
