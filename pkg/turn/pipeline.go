// Package turn runs one conversational turn: transcribe an utterance, record
// it, generate a reply, record that, then stream the reply as PCM frames.
//
// History is forward-only. A turn that fails after the user message was
// recorded leaves that message in place; a turn that fails during synthesis
// keeps both the user and assistant messages.
package turn

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/inference"
	"github.com/teslashibe/go-arcana/pkg/pcm"
	"github.com/teslashibe/go-arcana/pkg/stt"
	"github.com/teslashibe/go-arcana/pkg/tts"
)

// DefaultSampleRate is the playback rate of synthesized replies.
const DefaultSampleRate = 24000

// Transcriber turns an utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, u stt.Utterance) (string, error)
}

// ReplyGenerator produces an assistant reply for a conversation.
type ReplyGenerator interface {
	Generate(ctx context.Context, req inference.GenerateRequest) (string, error)
}

// Synthesizer streams speech for a text.
type Synthesizer interface {
	Stream(ctx context.Context, req tts.Request) (tts.AudioStream, error)
}

// Settings are the per-session inputs to a turn.
type Settings struct {
	LLMToken string
	TTSToken string
	Speaker  string
}

// Output receives everything a turn produces, in order.
type Output interface {
	// History is called with the full history after the user message is
	// recorded, and again when the turn completes.
	History(ctx context.Context, msgs []history.Message) error

	// Audio is called for every frame, in production order.
	Audio(ctx context.Context, f pcm.Frame) error
}

// Pipeline sequences the stages of a turn. It holds no per-session state and
// is safe for concurrent use by distinct sessions; callers must not run two
// turns for the same session at once.
type Pipeline struct {
	store       history.Store
	transcriber Transcriber
	generator   ReplyGenerator
	synthesizer Synthesizer
	opts        options
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(store history.Store, t Transcriber, g ReplyGenerator, s Synthesizer, opts ...Option) *Pipeline {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipeline{
		store:       store,
		transcriber: t,
		generator:   g,
		synthesizer: s,
		opts:        o,
		logger:      o.logger.With("component", "turn.pipeline"),
	}
}

// run carries one turn's state.
type run struct {
	p         *Pipeline
	sessionID string
	state     State
	logger    *slog.Logger
	timer     *timer
}

func (r *run) enter(s State) {
	r.state = s
	r.logger.Debug("turn state", "state", s.String())
	if r.p.opts.observer != nil {
		r.p.opts.observer(r.sessionID, s)
	}
}

// fail moves the turn to Errored and returns the classified error.
func (r *run) fail(kind Kind, err error) error {
	failed := r.state
	r.enter(StateErrored)
	te := &Error{Kind: kind, State: failed, SessionID: r.sessionID, Err: err}
	r.logger.Warn("turn failed", "kind", kind.String(), "state", failed.String(), "error", err)
	return te
}

// Run processes one utterance for sessionID. Every failure is returned as
// *Error; nothing already written to history is undone.
func (p *Pipeline) Run(ctx context.Context, sessionID string, u stt.Utterance, s Settings, out Output) error {
	r := &run{
		p:         p,
		sessionID: sessionID,
		logger:    p.logger.With("session_id", sessionID),
		timer:     newTimer(sessionID),
	}

	r.enter(StateAwaitingCredentials)
	if s.LLMToken == "" {
		return r.fail(KindConfiguration, ErrMissingLLMToken)
	}
	if s.TTSToken == "" {
		return r.fail(KindConfiguration, ErrMissingTTSToken)
	}

	r.enter(StateTranscribing)
	text, err := p.transcriber.Transcribe(ctx, u)
	if err != nil {
		return r.fail(KindTranscription, err)
	}
	r.timer.markTranscript()

	if strings.TrimSpace(text) == "" && p.opts.empty == SkipEmpty {
		r.logger.Debug("empty transcript, skipping turn", "audio_s", u.Duration())
		r.enter(StateDone)
		return nil
	}

	if _, err := p.store.GetOrCreate(ctx, sessionID); err != nil {
		return r.fail(KindTranscription, err)
	}
	msgs, err := p.store.Append(ctx, sessionID, history.NewUserMessage(text))
	if err != nil {
		return r.fail(KindTranscription, err)
	}
	if err := out.History(ctx, msgs); err != nil {
		return r.fail(KindTranscription, err)
	}

	r.enter(StateAwaitingReply)
	reply, err := p.generator.Generate(ctx, inference.GenerateRequest{
		Messages:  toInference(msgs),
		Model:     p.opts.model,
		APIKey:    s.LLMToken,
		MaxTokens: p.opts.maxTokens,
		OnDelta:   func(string) { r.timer.markFirstToken() },
	})
	if err != nil {
		return r.fail(KindReplyGeneration, err)
	}
	r.timer.markReply(len(reply))

	msgs, err = p.store.Append(ctx, sessionID, history.NewAssistantMessage(reply))
	if err != nil {
		return r.fail(KindReplyGeneration, err)
	}

	if strings.TrimSpace(reply) != "" {
		if err := r.speak(ctx, reply, s, out); err != nil {
			return r.fail(KindSynthesis, err)
		}
	}

	r.enter(StateDone)
	if err := out.History(ctx, msgs); err != nil {
		return r.fail(KindSynthesis, err)
	}

	m := r.timer.finish()
	if p.opts.metrics != nil {
		p.opts.metrics.Record(m)
	}
	r.logger.Info("turn complete",
		"latency", m.FormatLatency(),
		"frames", m.AudioFrames,
		"reply_chars", m.ReplyChars,
	)
	return nil
}

// speak synthesizes reply and forwards each frame as it is assembled.
func (r *run) speak(ctx context.Context, reply string, s Settings, out Output) error {
	r.enter(StateSynthesizing)
	stream, err := r.p.synthesizer.Stream(ctx, tts.Request{
		Text:    reply,
		Speaker: s.Speaker,
		APIKey:  s.TTSToken,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	rate := stream.Format().SampleRate
	if rate <= 0 {
		rate = r.p.opts.sampleRate
	}

	r.enter(StateStreaming)
	return pcm.Frames(ctx, stream, rate, func(f pcm.Frame) error {
		r.timer.addFrame(len(f.Samples))
		return out.Audio(ctx, f)
	})
}

func toInference(msgs []history.Message) []inference.Message {
	out := make([]inference.Message, len(msgs))
	for i, m := range msgs {
		out[i] = inference.Message{Role: inference.Role(m.Role), Content: m.Content}
	}
	return out
}
