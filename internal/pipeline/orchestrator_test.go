package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/clipforge/internal/artifact"
	"github.com/normanking/clipforge/internal/compose"
	"github.com/normanking/clipforge/internal/config"
	"github.com/normanking/clipforge/internal/llm"
	"github.com/normanking/clipforge/internal/media"
	"github.com/normanking/clipforge/internal/stt"
	"github.com/normanking/clipforge/internal/tts"
	"github.com/normanking/clipforge/internal/vision"
)

// --- fakes ---

type fakeTranscriber struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	text     string
	onCall   func()
}

func (f *fakeTranscriber) Name() string { return "fake-stt" }

func (f *fakeTranscriber) Transcribe(context.Context, string) (*stt.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &stt.Transcript{Text: f.text}, nil
}

type fakeMoments struct{ calls int }

func (f *fakeMoments) Name() string { return "fake-llm" }

func (f *fakeMoments) SelectMoments(_ context.Context, _ string, max int) ([]llm.MomentSummary, error) {
	f.calls++
	return []llm.MomentSummary{
		{Start: 10 * time.Second, End: 25 * time.Second, Summary: "the big reveal", Score: 0.9},
		{Start: 40 * time.Second, End: 50 * time.Second, Summary: "a good joke", Score: 0.7},
	}, nil
}

type fakeScripter struct{ calls int }

func (f *fakeScripter) Name() string { return "fake-llm" }

func (f *fakeScripter) WriteScript(context.Context, []llm.MomentSummary, time.Duration) (string, error) {
	f.calls++
	return "So here is what happened today.", nil
}

type fakeSynth struct {
	calls int
	err   error
}

func (f *fakeSynth) Name() string { return "fake-tts" }

func (f *fakeSynth) Synthesize(_ context.Context, _ string, _ tts.VoiceConfig, outPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, testWAV(), 0o644)
}

// testWAV is half a second of 220 Hz tone.
func testWAV() []byte {
	samples := make([]float64, 4000)
	for i := range samples {
		samples[i] = 0.8 * math.Sin(2*math.Pi*220*float64(i)/8000)
	}
	return media.EncodeWAV(samples, 8000)
}

type fixedDetector struct{}

func (fixedDetector) Name() string { return "fixed" }

func (fixedDetector) Detect(context.Context, image.Image) (*vision.FaceRegion, error) {
	return &vision.FaceRegion{
		Min:        mgl64.Vec2{10, 10},
		Max:        mgl64.Vec2{50, 50},
		Landmarks:  vision.Landmarks{MouthCenter: mgl64.Vec2{30, 42}},
		Confidence: 1,
	}, nil
}

type blindDetector struct{}

func (blindDetector) Name() string { return "blind" }

func (blindDetector) Detect(context.Context, image.Image) (*vision.FaceRegion, error) {
	return nil, nil
}

type fakeEncoder struct {
	encodeErr error

	mu        sync.Mutex
	frameRate int
}

func (f *fakeEncoder) ExtractAudio(_ context.Context, _, outPath string) error {
	return os.WriteFile(outPath, testWAV(), 0o644)
}

func (f *fakeEncoder) EncodeFrameSequence(_ context.Context, _, _, outPath string, frameRate int) error {
	f.mu.Lock()
	f.frameRate = frameRate
	f.mu.Unlock()
	if f.encodeErr != nil {
		return f.encodeErr
	}
	return os.WriteFile(outPath, []byte("fake mp4"), 0o644)
}

type fakeComposer struct{ calls int }

func (f *fakeComposer) Compose(_ context.Context, _, _, outPath string) (compose.Plan, error) {
	f.calls++
	plan, _ := compose.PlanComposition(30*time.Second, 10*time.Second)
	return plan, os.WriteFile(outPath, []byte("fake loop mp4"), 0o644)
}

type eventSink struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (s *eventSink) Publish(ev StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) outcomes(stage Stage) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outcome
	for _, ev := range s.events {
		if ev.Stage == stage {
			out = append(out, ev.Outcome)
		}
	}
	return out
}

// --- harness ---

type harness struct {
	cfg      *config.Config
	store    *artifact.Store
	orch     *Orchestrator
	sink     *eventSink
	stt      *fakeTranscriber
	moments  *fakeMoments
	scripter *fakeScripter
	synth    *fakeSynth
	encoder  *fakeEncoder
	composer *fakeComposer
	source   string
}

func newHarness(t *testing.T, detector vision.Detector) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Pipeline.ArtifactDir = filepath.Join(dir, "runs")
	cfg.Pipeline.MaxAttempts = 3
	cfg.Pipeline.RetryBackoff = time.Millisecond
	cfg.Pipeline.MaxBackoff = 5 * time.Millisecond
	cfg.Video.AvatarImage = writeAvatar(t, dir)
	cfg.Video.BackgroundClip = ""

	store, err := artifact.NewStore(cfg.Pipeline.ArtifactDir)
	require.NoError(t, err)

	h := &harness{
		cfg:      cfg,
		store:    store,
		sink:     &eventSink{},
		stt:      &fakeTranscriber{text: "a long rambling recording transcript"},
		moments:  &fakeMoments{},
		scripter: &fakeScripter{},
		synth:    &fakeSynth{},
		encoder:  &fakeEncoder{},
		composer: &fakeComposer{},
	}

	h.orch = NewOrchestrator(cfg, store, Collaborators{
		Transcriber: h.stt,
		Moments:     h.moments,
		Scripter:    h.scripter,
		Synthesizer: h.synth,
		Detector:    detector,
	}, h.sink, zerolog.Nop())
	h.orch.encoder = h.encoder
	h.orch.composer = h.composer

	h.source = filepath.Join(dir, "recording.mp4")
	require.NoError(t, os.WriteFile(h.source, []byte("source media bytes"), 0o644))
	return h
}

func writeAvatar(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 210, G: 160, B: 130, A: 255}), image.Point{}, draw.Src)
	path := filepath.Join(dir, "avatar.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// --- tests ---

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, fixedDetector{})

	run, err := h.orch.Run(context.Background(), h.source)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, FullLipSync, run.Strategy)
	assert.Len(t, run.Artifacts, 5)

	for _, a := range run.Artifacts {
		assert.FileExists(t, a.Path)
	}
	assert.Equal(t, 1, h.stt.calls)
	assert.Equal(t, 1, h.moments.calls)
	assert.Equal(t, 1, h.scripter.calls)
	assert.Equal(t, 1, h.synth.calls)
	assert.Zero(t, h.composer.calls, "loop tier should not run when lip-sync succeeds")

	assert.Equal(t, []Outcome{OutcomeStarted, OutcomeCompleted}, h.sink.outcomes(StageTranscript))
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	ctx := context.Background()

	first, err := h.orch.Run(ctx, h.source)
	require.NoError(t, err)

	second, err := h.orch.Run(ctx, h.source)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.stt.calls, "cached transcript must not re-invoke the oracle")
	assert.Equal(t, 1, h.moments.calls)
	assert.Equal(t, 1, h.scripter.calls)
	assert.Equal(t, 1, h.synth.calls)

	// byte-identical artifact content on the re-run
	for i := range first.Artifacts {
		assert.Equal(t, first.Artifacts[i].ContentHash, second.Artifacts[i].ContentHash)
	}

	outcomes := h.sink.outcomes(StageVideo)
	assert.Equal(t, OutcomeCached, outcomes[len(outcomes)-1])
}

func TestRunFailsOnQuotaExceeded(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	h.synth.err = fmt.Errorf("tts: %w", tts.ErrQuotaExceeded)

	run, err := h.orch.Run(context.Background(), h.source)
	require.Error(t, err)

	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StageNarration, run.Stage)
	assert.Equal(t, KindCollaborator, run.ErrorKind)
	assert.Equal(t, 1, h.synth.calls, "collaborator errors are not retried")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, se.Err, tts.ErrQuotaExceeded)

	// earlier artifacts survive for resumability, no video was committed
	_, err = h.store.Lookup(run.ID, string(StageTranscript), artifact.HashParams(h.orch.stageParams(StageTranscript)))
	assert.NoError(t, err)
	_, err = h.store.Lookup(run.ID, string(StageVideo), artifact.HashParams(h.orch.stageParams(StageVideo)))
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestVideoFallsBackToStillAvatar(t *testing.T) {
	h := newHarness(t, blindDetector{})

	run, err := h.orch.Run(context.Background(), h.source)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, StillAvatar, run.Strategy)
}

func TestVideoFallsBackToBackgroundLoop(t *testing.T) {
	h := newHarness(t, blindDetector{})
	h.orch.encoder = &fakeEncoder{encodeErr: errors.New("encoder exploded")}

	background := filepath.Join(t.TempDir(), "bg.mp4")
	require.NoError(t, os.WriteFile(background, []byte("bg"), 0o644))
	h.cfg.Video.BackgroundClip = background

	run, err := h.orch.Run(context.Background(), h.source)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, LoopBackground, run.Strategy)
	assert.Equal(t, 1, h.composer.calls)
}

func TestVideoSynthesisExhaustion(t *testing.T) {
	h := newHarness(t, blindDetector{})
	h.orch.encoder = &fakeEncoder{encodeErr: errors.New("encoder exploded")}
	// no background clip configured, so the last tier fails too

	run, err := h.orch.Run(context.Background(), h.source)
	require.Error(t, err)

	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StageVideo, run.Stage)
	assert.Equal(t, KindSynthesis, run.ErrorKind)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
}

func TestVideoEncodesAtFeatureFrameRate(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	h.cfg.Audio.FrameRate = 24
	h.cfg.Video.FPS = 30

	run, err := h.orch.Run(context.Background(), h.source)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 24, h.encoder.frameRate,
		"frames rendered at the feature rate must be encoded at it, or the video drifts from the narration")
}

func TestVideoParamsCoverFeatureFrameRate(t *testing.T) {
	h := newHarness(t, fixedDetector{})

	before := artifact.HashParams(h.orch.stageParams(StageVideo))
	h.cfg.Audio.FrameRate = 24
	after := artifact.HashParams(h.orch.stageParams(StageVideo))
	assert.NotEqual(t, before, after, "changing the feature rate must invalidate the cached video")
}

func TestTransientFailuresAreRetried(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	h.stt.failures = 2
	h.stt.err = Transient(errors.New("connection reset"))

	run, err := h.orch.Run(context.Background(), h.source)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 3, h.stt.calls)
}

func TestTransientRetriesExhaust(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	h.stt.failures = 99
	h.stt.err = Transient(errors.New("connection reset"))

	run, err := h.orch.Run(context.Background(), h.source)
	require.Error(t, err)

	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StageTranscript, run.Stage)
	assert.Equal(t, KindTransient, run.ErrorKind)
	assert.Equal(t, 3, h.stt.calls)
}

func TestRunCancelledBetweenStages(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.orch.Run(ctx, h.source)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, StateCompleted, run.State)
	assert.Zero(t, h.stt.calls, "no stage should start after cancellation")
}

func TestRunCancelledDuringRetryBackoff(t *testing.T) {
	h := newHarness(t, fixedDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	h.stt.failures = 99
	h.stt.err = Transient(errors.New("connection reset"))
	h.stt.onCall = cancel

	run, err := h.orch.Run(ctx, h.source)
	assert.ErrorIs(t, err, context.Canceled)

	var se *StageError
	assert.False(t, errors.As(err, &se), "cancellation is not a stage failure")
	assert.NotEqual(t, StateFailed, run.State)
	assert.Empty(t, run.ErrorKind)
	assert.Equal(t, 1, h.stt.calls, "no retry after cancellation")
}

func TestRunIDStability(t *testing.T) {
	h := newHarness(t, fixedDetector{})

	a, err := RunID(h.source, h.cfg)
	require.NoError(t, err)
	b, err := RunID(h.source, h.cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	h.cfg.TTS.VoiceID = "different-voice"
	c, err := RunID(h.source, h.cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "configuration changes must change the run id")

	_, err = RunID(filepath.Join(t.TempDir(), "missing.mp4"), h.cfg)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"marked transient", Transient(errors.New("boom")), KindTransient},
		{"wrapped transient", fmt.Errorf("stage: %w", Transient(errors.New("boom"))), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"stt timeout", stt.ErrTimeout, KindTransient},
		{"degenerate clip", compose.ErrDegenerateClip, KindConfiguration},
		{"missing media", media.ErrFileNotFound, KindConfiguration},
		{"quota", tts.ErrQuotaExceeded, KindCollaborator},
		{"voice", tts.ErrVoiceNotFound, KindCollaborator},
		{"stt down", stt.ErrUnavailable, KindCollaborator},
		{"synthesis", ErrSynthesisFailed, KindSynthesis},
		{"unknown", errors.New("mystery"), KindCollaborator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
