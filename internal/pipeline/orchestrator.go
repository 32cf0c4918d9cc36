package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/clipforge/internal/artifact"
	"github.com/normanking/clipforge/internal/audiofeat"
	"github.com/normanking/clipforge/internal/compose"
	"github.com/normanking/clipforge/internal/config"
	"github.com/normanking/clipforge/internal/lipsync"
	"github.com/normanking/clipforge/internal/llm"
	"github.com/normanking/clipforge/internal/media"
	"github.com/normanking/clipforge/internal/stt"
	"github.com/normanking/clipforge/internal/tts"
	"github.com/normanking/clipforge/internal/vision"
)

// MediaEncoder is the slice of the ffmpeg wrapper the orchestrator drives.
type MediaEncoder interface {
	ExtractAudio(ctx context.Context, mediaPath, outPath string) error
	EncodeFrameSequence(ctx context.Context, frameDir, audioPath, outPath string, frameRate int) error
}

// Composer renders the duration-matched background-loop video.
type Composer interface {
	Compose(ctx context.Context, backgroundPath, narrationPath, outPath string) (compose.Plan, error)
}

// Collaborators bundles the external oracles the orchestrator calls.
type Collaborators struct {
	Transcriber stt.Transcriber
	Moments     llm.MomentSelector
	Scripter    llm.ScriptWriter
	Synthesizer tts.Synthesizer
	Detector    vision.Detector
}

// Orchestrator drives a run through the fixed stage order, caching committed
// artifacts, retrying transient failures, and walking the video fallback
// ladder. One Orchestrator may serve concurrent runs; it holds no state of
// its own beyond shared read-only dependencies.
type Orchestrator struct {
	cfg      *config.Config
	store    *artifact.Store
	collab   Collaborators
	encoder  MediaEncoder
	composer Composer
	sink     Sink
	log      zerolog.Logger
}

// NewOrchestrator wires the pipeline. sink may be nil.
func NewOrchestrator(cfg *config.Config, store *artifact.Store, collab Collaborators, sink Sink, log zerolog.Logger) *Orchestrator {
	prober := media.NewProber("")
	encoder := media.NewEncoder("", media.EncoderConfig{
		FPS:          cfg.Video.FPS,
		CRF:          cfg.Video.CRF,
		Preset:       cfg.Video.Preset,
		AudioBitrate: cfg.Video.AudioBitrate,
	})
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		collab:   collab,
		encoder:  encoder,
		composer: compose.NewComposer(prober, encoder, log),
		sink:     sink,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// RunID derives the stable run identity from the source file and the
// configuration that shapes its artifacts. The same source and settings
// always map to the same run directory, which is what makes re-runs cache
// hits instead of recomputation.
func RunID(sourcePath string, cfg *config.Config) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("source not readable: %w", err)
	}
	h := artifact.HashParams(map[string]string{
		"source":       filepath.Clean(sourcePath),
		"size":         strconv.FormatInt(info.Size(), 10),
		"mtime":        strconv.FormatInt(info.ModTime().UnixNano(), 10),
		"stt.provider": cfg.STT.Provider,
		"stt.model":    cfg.STT.ModelSize,
		"llm.model":    cfg.LLM.Model,
		"tts.voice":    cfg.TTS.VoiceID,
		"video.fps":    strconv.Itoa(cfg.Video.FPS),
	})
	return h[:16], nil
}

// Run executes the pipeline for one source file. The returned Run describes
// the outcome in both the success and failure cases; the error mirrors
// Run.Error for callers that only check one.
func (o *Orchestrator) Run(ctx context.Context, sourcePath string) (*Run, error) {
	id, err := RunID(sourcePath, o.cfg)
	if err != nil {
		return nil, &StageError{Stage: StageTranscript, Kind: KindConfiguration, Err: err}
	}

	run := &Run{
		ID:        id,
		Source:    sourcePath,
		State:     StatePending,
		StartedAt: time.Now().UTC(),
	}
	o.log.Info().Str("run_id", id).Str("source", sourcePath).Msg("run started")

	for _, stage := range stageOrder {
		// cancellation is honored between stage boundaries only; an
		// in-flight stage runs to completion and its result is kept on
		// disk for the next attempt
		if err := ctx.Err(); err != nil {
			return run, err
		}
		run.State = stageStates[stage]
		if err := o.runStage(ctx, run, stage); err != nil {
			// cancellation mid-stage is not a stage failure; surface it the
			// same way the boundary check above does
			if errors.Is(err, context.Canceled) {
				return run, err
			}
			var se *StageError
			if !errors.As(err, &se) {
				se = &StageError{Stage: stage, Kind: Classify(err), Err: err}
			}
			run.State = StateFailed
			run.Stage = se.Stage
			run.Error = se.Err.Error()
			run.ErrorKind = se.Kind
			run.EndedAt = time.Now().UTC()
			o.log.Error().Str("run_id", id).Str("stage", string(se.Stage)).
				Str("kind", string(se.Kind)).Err(se.Err).Msg("run failed")
			return run, se
		}
	}

	run.State = StateCompleted
	run.EndedAt = time.Now().UTC()
	o.log.Info().Str("run_id", id).Dur("elapsed", run.EndedAt.Sub(run.StartedAt)).Msg("run completed")
	return run, nil
}

// runStage executes one stage with idempotency, retry, and event emission.
func (o *Orchestrator) runStage(ctx context.Context, run *Run, stage Stage) error {
	params := o.stageParams(stage)
	hash := artifact.HashParams(params)
	started := time.Now()

	if art, err := o.store.Lookup(run.ID, string(stage), hash); err == nil {
		run.Artifacts = append(run.Artifacts, *art)
		o.emit(run, stage, OutcomeCached, "", time.Since(started), "reused committed artifact")
		return nil
	} else if errors.Is(err, artifact.ErrParamsMismatch) {
		return &StageError{Stage: stage, Kind: KindConfiguration, Err: err}
	}

	o.emit(run, stage, OutcomeStarted, "", 0, "")

	var art *artifact.Artifact
	err := o.withRetry(ctx, run.ID, stage, func() error {
		var stageErr error
		art, stageErr = o.executeStage(ctx, run, stage, hash, params)
		return stageErr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		o.emit(run, stage, OutcomeFailed, run.Strategy, time.Since(started), err.Error())
		var se *StageError
		if errors.As(err, &se) {
			return se
		}
		return &StageError{Stage: stage, Kind: Classify(err), Err: err}
	}

	run.Artifacts = append(run.Artifacts, *art)
	o.emit(run, stage, OutcomeCompleted, run.Strategy, time.Since(started), "")
	return nil
}

// withRetry retries transient failures with bounded exponential backoff.
// Everything else aborts on the first attempt.
func (o *Orchestrator) withRetry(ctx context.Context, runID string, stage Stage, fn func() error) error {
	attempts := o.cfg.Pipeline.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := o.cfg.Pipeline.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxBackoff := o.cfg.Pipeline.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if Classify(err) != KindTransient || attempt == attempts {
			return err
		}
		o.log.Warn().Str("run_id", runID).Str("stage", string(stage)).
			Int("attempt", attempt).Dur("backoff", backoff).Err(err).
			Msg("transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}

func (o *Orchestrator) executeStage(ctx context.Context, run *Run, stage Stage, hash string, params map[string]string) (*artifact.Artifact, error) {
	switch stage {
	case StageTranscript:
		return o.transcribe(ctx, run, hash, params)
	case StageMoments:
		return o.selectMoments(ctx, run, hash, params)
	case StageScript:
		return o.writeScript(ctx, run, hash, params)
	case StageNarration:
		return o.narrate(ctx, run, hash, params)
	case StageVideo:
		return o.synthesizeVideo(ctx, run, hash, params)
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// stageParams lists the configuration that shapes each stage's artifact;
// changing any of them invalidates the idempotency cache for that stage.
func (o *Orchestrator) stageParams(stage Stage) map[string]string {
	switch stage {
	case StageTranscript:
		return map[string]string{
			"provider": o.cfg.STT.Provider,
			"model":    o.cfg.STT.ModelSize,
			"language": o.cfg.STT.Language,
		}
	case StageMoments:
		return map[string]string{
			"provider": o.cfg.LLM.Provider,
			"model":    o.cfg.LLM.Model,
			"max":      strconv.Itoa(o.cfg.LLM.MaxMoments),
		}
	case StageScript:
		return map[string]string{
			"provider": o.cfg.LLM.Provider,
			"model":    o.cfg.LLM.Model,
			"duration": o.cfg.LLM.ScriptDuration.String(),
		}
	case StageNarration:
		return map[string]string{
			"provider": o.cfg.TTS.Provider,
			"voice":    o.cfg.TTS.VoiceID,
			"speed":    strconv.FormatFloat(o.cfg.TTS.Speed, 'f', 2, 64),
			"format":   o.cfg.TTS.Format,
		}
	case StageVideo:
		return map[string]string{
			"fps":        strconv.Itoa(o.cfg.Video.FPS),
			"frame_rate": strconv.Itoa(o.cfg.Audio.FrameRate),
			"crf":        strconv.Itoa(o.cfg.Video.CRF),
			"preset":     o.cfg.Video.Preset,
			"background": o.cfg.Video.BackgroundClip,
			"avatar":     o.cfg.Video.AvatarImage,
		}
	default:
		return nil
	}
}

// workDir holds a run's uncommitted intermediates (extracted audio, frame
// arenas, encoded candidates). Committed artifacts move out of it.
func (o *Orchestrator) workDir(runID string) (string, error) {
	dir := filepath.Join(o.store.RunDir(runID), "work")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, run *Run, hash string, params map[string]string) (*artifact.Artifact, error) {
	work, err := o.workDir(run.ID)
	if err != nil {
		return nil, err
	}

	// normalize to mono 16 kHz WAV so every transcriber sees one format
	audioPath := filepath.Join(work, "source_audio.wav")
	if err := o.encoder.ExtractAudio(ctx, run.Source, audioPath); err != nil {
		return nil, err
	}

	tr, err := o.collab.Transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	// empty text for silent input is valid
	art, err := o.store.Commit(run.ID, string(StageTranscript), hash, params, []byte(tr.Text))
	if err != nil && !errors.Is(err, artifact.ErrAlreadyCommitted) {
		return nil, err
	}
	return art, nil
}

func (o *Orchestrator) selectMoments(ctx context.Context, run *Run, hash string, params map[string]string) (*artifact.Artifact, error) {
	transcript, err := o.readStage(run, StageTranscript)
	if err != nil {
		return nil, err
	}

	max := o.cfg.LLM.MaxMoments
	if max <= 0 {
		max = 3
	}
	moments, err := o.collab.Moments.SelectMoments(ctx, string(transcript), max)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(moments, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode moments: %w", err)
	}
	art, err := o.store.Commit(run.ID, string(StageMoments), hash, params, data)
	if err != nil && !errors.Is(err, artifact.ErrAlreadyCommitted) {
		return nil, err
	}
	return art, nil
}

func (o *Orchestrator) writeScript(ctx context.Context, run *Run, hash string, params map[string]string) (*artifact.Artifact, error) {
	data, err := o.readStage(run, StageMoments)
	if err != nil {
		return nil, err
	}
	var moments []llm.MomentSummary
	if err := json.Unmarshal(data, &moments); err != nil {
		return nil, fmt.Errorf("failed to decode moments artifact: %w", err)
	}

	target := o.cfg.LLM.ScriptDuration
	if target <= 0 {
		target = 60 * time.Second
	}
	script, err := o.collab.Scripter.WriteScript(ctx, moments, target)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(script) == "" {
		return nil, llm.ErrEmptyResponse
	}

	art, err := o.store.Commit(run.ID, string(StageScript), hash, params, []byte(script))
	if err != nil && !errors.Is(err, artifact.ErrAlreadyCommitted) {
		return nil, err
	}
	return art, nil
}

func (o *Orchestrator) narrate(ctx context.Context, run *Run, hash string, params map[string]string) (*artifact.Artifact, error) {
	script, err := o.readStage(run, StageScript)
	if err != nil {
		return nil, err
	}
	work, err := o.workDir(run.ID)
	if err != nil {
		return nil, err
	}

	voice := tts.VoiceConfig{
		VoiceID: o.cfg.TTS.VoiceID,
		Speed:   o.cfg.TTS.Speed,
		Format:  o.cfg.TTS.Format,
	}
	outPath := filepath.Join(work, "narration.wav")
	if err := o.collab.Synthesizer.Synthesize(ctx, string(script), voice, outPath); err != nil {
		return nil, err
	}

	art, err := o.store.CommitFile(run.ID, string(StageNarration), hash, params, outPath)
	if err != nil && !errors.Is(err, artifact.ErrAlreadyCommitted) {
		return nil, err
	}
	return art, nil
}

// synthesizeVideo walks the fallback ladder. Each tier is attempted at most
// once; a tier failure is recovered locally by advancing, and only
// exhaustion of all tiers surfaces as a terminal error.
func (o *Orchestrator) synthesizeVideo(ctx context.Context, run *Run, hash string, params map[string]string) (*artifact.Artifact, error) {
	narrationPath, err := o.stagePath(run, StageNarration)
	if err != nil {
		return nil, err
	}
	work, err := o.workDir(run.ID)
	if err != nil {
		return nil, err
	}

	seq, seqErr := o.extractFeatures(narrationPath)

	var tierErrs []string
	for _, strategy := range fallbackOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.Strategy = strategy

		outPath, tierErr := o.runTier(ctx, run, strategy, work, narrationPath, seq, seqErr)
		if tierErr != nil {
			o.log.Warn().Str("run_id", run.ID).Str("strategy", string(strategy)).
				Err(tierErr).Msg("video tier failed, falling back")
			tierErrs = append(tierErrs, fmt.Sprintf("%s: %v", strategy, tierErr))
			continue
		}

		if o.cfg.Video.KeepFeatureDump && seq != nil {
			o.dumpFeatures(run.ID, seq)
		}
		art, err := o.store.CommitFile(run.ID, string(StageVideo), hash, params, outPath)
		if err != nil && !errors.Is(err, artifact.ErrAlreadyCommitted) {
			return nil, err
		}
		return art, nil
	}

	return nil, &StageError{
		Stage: StageVideo,
		Kind:  KindSynthesis,
		Err:   fmt.Errorf("%w: %s", ErrSynthesisFailed, strings.Join(tierErrs, "; ")),
	}
}

func (o *Orchestrator) runTier(ctx context.Context, run *Run, strategy Strategy, work, narrationPath string, seq *audiofeat.Sequence, seqErr error) (string, error) {
	switch strategy {
	case FullLipSync:
		if seqErr != nil {
			return "", seqErr
		}
		return o.renderLipSync(ctx, run, work, narrationPath, seq)
	case StillAvatar:
		if seqErr != nil {
			return "", seqErr
		}
		return o.renderStillAvatar(ctx, run, work, narrationPath, seq)
	case LoopBackground:
		if o.cfg.Video.BackgroundClip == "" {
			return "", fmt.Errorf("no background clip configured")
		}
		outPath := filepath.Join(work, "loop.mp4")
		if _, err := o.composer.Compose(ctx, o.cfg.Video.BackgroundClip, narrationPath, outPath); err != nil {
			return "", err
		}
		return outPath, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", strategy)
	}
}

func (o *Orchestrator) extractFeatures(narrationPath string) (*audiofeat.Sequence, error) {
	w, err := media.DecodeWAVFile(narrationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode narration: %w", err)
	}
	ex := audiofeat.NewExtractor(audiofeat.Config{
		FrameRate:       o.cfg.Audio.FrameRate,
		WindowOverlap:   o.cfg.Audio.WindowOverlap,
		OnsetThreshold:  o.cfg.Audio.OnsetThreshold,
		TrailingWindows: o.cfg.Audio.TrailingWindows,
	})
	return ex.Extract(w)
}

func (o *Orchestrator) renderLipSync(ctx context.Context, run *Run, work, narrationPath string, seq *audiofeat.Sequence) (string, error) {
	avatar, err := o.loadAvatar()
	if err != nil {
		return "", err
	}

	arena, err := lipsync.NewFrameArena(filepath.Join(work, "frames_lipsync"))
	if err != nil {
		return "", err
	}
	animator := lipsync.NewAnimator(lipsync.Config{
		MaxHeldFrames: o.cfg.Video.MaxHeldFrames,
	}, o.collab.Detector, o.log)
	if err := animator.Animate(ctx, []image.Image{avatar}, seq, arena); err != nil {
		return "", err
	}

	// encode at the feature rate so frame count and narration duration agree
	outPath := filepath.Join(work, "lipsync.mp4")
	if err := o.encoder.EncodeFrameSequence(ctx, arena.Dir(), narrationPath, outPath, seq.FrameRate()); err != nil {
		return "", err
	}
	return outPath, nil
}

func (o *Orchestrator) renderStillAvatar(ctx context.Context, run *Run, work, narrationPath string, seq *audiofeat.Sequence) (string, error) {
	// the still tier tolerates a missing avatar; it draws on a bare canvas
	avatar, err := o.loadAvatar()
	if err != nil {
		avatar = nil
	}

	arena, err := lipsync.NewFrameArena(filepath.Join(work, "frames_still"))
	if err != nil {
		return "", err
	}
	renderer := lipsync.NewFallbackRenderer(o.cfg.Video.Width, o.cfg.Video.Height, o.log)
	if err := renderer.Render(ctx, avatar, seq, arena); err != nil {
		return "", err
	}

	outPath := filepath.Join(work, "still.mp4")
	if err := o.encoder.EncodeFrameSequence(ctx, arena.Dir(), narrationPath, outPath, seq.FrameRate()); err != nil {
		return "", err
	}
	return outPath, nil
}

func (o *Orchestrator) loadAvatar() (image.Image, error) {
	path := o.cfg.Video.AvatarImage
	if path == "" {
		return nil, fmt.Errorf("no avatar image configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open avatar image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode avatar image: %w", err)
	}
	return img, nil
}

// dumpFeatures writes the feature sequence beside the video artifact for
// debugging. Failures are logged, never fatal.
func (o *Orchestrator) dumpFeatures(runID string, seq *audiofeat.Sequence) {
	data, err := json.MarshalIndent(seq.Frames(), "", "  ")
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to encode feature dump")
		return
	}
	path := filepath.Join(o.store.RunDir(runID), "video", "features.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		o.log.Warn().Err(err).Msg("failed to create feature dump dir")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.log.Warn().Err(err).Msg("failed to write feature dump")
	}
}

func (o *Orchestrator) stageArtifact(run *Run, stage Stage) (*artifact.Artifact, error) {
	for i := range run.Artifacts {
		if run.Artifacts[i].Stage == string(stage) {
			return &run.Artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("stage %s artifact missing from run", stage)
}

func (o *Orchestrator) readStage(run *Run, stage Stage) ([]byte, error) {
	art, err := o.stageArtifact(run, stage)
	if err != nil {
		return nil, err
	}
	return o.store.Read(art)
}

func (o *Orchestrator) stagePath(run *Run, stage Stage) (string, error) {
	art, err := o.stageArtifact(run, stage)
	if err != nil {
		return "", err
	}
	return art.Path, nil
}

func (o *Orchestrator) emit(run *Run, stage Stage, outcome Outcome, strategy Strategy, dur time.Duration, msg string) {
	if o.sink == nil {
		return
	}
	o.sink.Publish(StatusEvent{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Stage:     stage,
		State:     run.State,
		Outcome:   outcome,
		Strategy:  strategy,
		Duration:  dur,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}
