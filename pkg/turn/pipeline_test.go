package turn_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/inference"
	"github.com/teslashibe/go-arcana/pkg/pcm"
	"github.com/teslashibe/go-arcana/pkg/stt"
	"github.com/teslashibe/go-arcana/pkg/tts"
	"github.com/teslashibe/go-arcana/pkg/turn"
)

const systemPrompt = "be brief"

var (
	utterance = stt.Utterance{SampleRate: 48000, Samples: make([]int16, 4800)}
	settings  = turn.Settings{LLMToken: "hf", TTSToken: "rime", Speaker: "Luna"}
)

type event struct {
	kind  string
	msgs  []history.Message
	frame pcm.Frame
}

// recorder is an Output that keeps every event in order.
type recorder struct {
	mu       sync.Mutex
	events   []event
	audioErr error
}

func (r *recorder) History(ctx context.Context, msgs []history.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "history", msgs: msgs})
	return nil
}

func (r *recorder) Audio(ctx context.Context, f pcm.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioErr != nil {
		return r.audioErr
	}
	r.events = append(r.events, event{kind: "audio", frame: f})
	return nil
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

type fixture struct {
	store *history.MemoryStore
	stt   *stt.Mock
	llm   *inference.Mock
	tts   *tts.Mock
	out   *recorder
}

func newFixture() *fixture {
	return &fixture{
		store: history.NewMemoryStore(history.WithSystemPrompt(systemPrompt)),
		stt:   stt.NewMock("what time is it"),
		llm:   inference.NewMock("It is noon."),
		tts:   tts.NewMock([]byte{1, 0, 2}, []byte{0, 3, 0, 9}),
		out:   &recorder{},
	}
}

func (f *fixture) pipeline(opts ...turn.Option) *turn.Pipeline {
	return turn.New(f.store, f.stt, inference.NewGenerator(f.llm, nil), f.tts, opts...)
}

func TestRunSuccessfulTurn(t *testing.T) {
	f := newFixture()
	var states []turn.State
	p := f.pipeline(turn.WithStateObserver(func(id string, s turn.State) {
		assert.Equal(t, "s1", id)
		states = append(states, s)
	}))

	require.NoError(t, p.Run(context.Background(), "s1", utterance, settings, f.out))

	assert.Equal(t, []string{"history", "audio", "audio", "history"}, f.out.kinds())

	first := f.out.events[0].msgs
	require.Len(t, first, 2)
	assert.Equal(t, history.RoleSystem, first[0].Role)
	assert.Equal(t, history.NewUserMessage("what time is it"), first[1])

	// The odd byte of each chunk carries into the next; the final one is dropped.
	assert.Equal(t, []int16{1}, f.out.events[1].frame.Samples)
	assert.Equal(t, []int16{2, 3}, f.out.events[2].frame.Samples)
	assert.Equal(t, 24000, f.out.events[1].frame.SampleRate)

	last := f.out.events[3].msgs
	require.Len(t, last, 3)
	assert.Equal(t, history.NewAssistantMessage("It is noon."), last[2])

	assert.Equal(t, []turn.State{
		turn.StateAwaitingCredentials,
		turn.StateTranscribing,
		turn.StateAwaitingReply,
		turn.StateSynthesizing,
		turn.StateStreaming,
		turn.StateDone,
	}, states)

	call := f.tts.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, tts.Request{Text: "It is noon.", Speaker: "Luna", APIKey: "rime"}, call.Request)
	assert.Equal(t, "hf", f.llm.LastCall().Request.APIKey)
}

func TestRunMissingCredentials(t *testing.T) {
	tests := []struct {
		name     string
		settings turn.Settings
		want     error
	}{
		{"no llm token", turn.Settings{TTSToken: "rime", Speaker: "Luna"}, turn.ErrMissingLLMToken},
		{"no tts token", turn.Settings{LLMToken: "hf", Speaker: "Luna"}, turn.ErrMissingTTSToken},
		{"neither", turn.Settings{}, turn.ErrMissingLLMToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			err := f.pipeline().Run(context.Background(), "s1", utterance, tt.settings, f.out)

			require.ErrorIs(t, err, turn.ErrConfiguration)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want.Error(), turn.UserMessage(err))

			assert.Equal(t, 0, f.stt.CallCount("Transcribe"))
			assert.Equal(t, 0, f.llm.CallCount("Stream"))
			assert.Equal(t, 0, f.tts.CallCount("Stream"))
			assert.Empty(t, f.out.events)
			assert.Equal(t, 0, f.store.Len())
		})
	}
}

func TestRunTranscriptionFailure(t *testing.T) {
	f := newFixture()
	f.stt = stt.WithError(errors.New("engine crashed"))

	err := f.pipeline().Run(context.Background(), "s1", utterance, settings, f.out)
	require.ErrorIs(t, err, turn.ErrTranscription)

	var te *turn.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, turn.StateTranscribing, te.State)
	assert.Equal(t, "s1", te.SessionID)
	assert.Equal(t, 0, f.llm.CallCount("Stream"))
	assert.Empty(t, f.out.events)
}

func TestRunSessionClosedDuringTranscription(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The session goes away while the transcript is in flight: its context
	// is cancelled and its history dropped before the transcript returns.
	f.stt.TranscribeFunc = func(context.Context, stt.Utterance) (string, error) {
		cancel()
		require.NoError(t, f.store.Delete(context.Background(), "s1"))
		return "are you there", nil
	}

	err := f.pipeline().Run(ctx, "s1", utterance, settings, f.out)
	require.ErrorIs(t, err, turn.ErrTranscription)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, f.store.Len(), "closed session must not be recreated")
	assert.Equal(t, 0, f.llm.CallCount("Stream"))
	assert.Empty(t, f.out.events)
}

func TestRunReplyFailureKeepsUserMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.pipeline()

	// One good turn first.
	require.NoError(t, p.Run(ctx, "s1", utterance, settings, f.out))
	before, _ := f.store.Messages(ctx, "s1")

	f.llm.StreamFunc = func(ctx context.Context, req *inference.ChatRequest) (inference.Stream, error) {
		return nil, &inference.APIError{StatusCode: 429, Message: "slow down", Provider: "client"}
	}
	err := p.Run(ctx, "s1", utterance, settings, f.out)
	require.ErrorIs(t, err, turn.ErrReplyGeneration)
	assert.Contains(t, turn.UserMessage(err), "slow down")

	after, _ := f.store.Messages(ctx, "s1")
	assert.Len(t, after, len(before)+1)
	assert.Equal(t, history.RoleUser, after[len(after)-1].Role)
}

func TestRunSynthesisFailureKeepsBothMessages(t *testing.T) {
	tests := []struct {
		name   string
		stream func(ctx context.Context, req tts.Request) (tts.AudioStream, error)
		state  turn.State
	}{
		{
			name: "request rejected",
			stream: func(ctx context.Context, req tts.Request) (tts.AudioStream, error) {
				return nil, &tts.APIError{StatusCode: 401, Message: "bad token", Provider: "rime"}
			},
			state: turn.StateSynthesizing,
		},
		{
			name: "stream interrupted",
			stream: func(ctx context.Context, req tts.Request) (tts.AudioStream, error) {
				return tts.FailingChunkStream(errors.New("connection reset"), []byte{1, 0}), nil
			},
			state: turn.StateStreaming,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.tts.StreamFunc = tt.stream
			ctx := context.Background()

			err := f.pipeline().Run(ctx, "s1", utterance, settings, f.out)
			require.ErrorIs(t, err, turn.ErrSynthesis)
			assert.Contains(t, turn.UserMessage(err), "Error occurred while streaming speech: ")

			var te *turn.Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.state, te.State)

			msgs, _ := f.store.Messages(ctx, "s1")
			require.Len(t, msgs, 3)
			assert.Equal(t, history.RoleAssistant, msgs[2].Role)

			// The final history event is not sent for a failed turn.
			histories := 0
			for _, e := range f.out.events {
				if e.kind == "history" {
					histories++
				}
			}
			assert.Equal(t, 1, histories)
			assert.Equal(t, "history", f.out.events[0].kind)
		})
	}
}

func TestRunAudioOutputFailure(t *testing.T) {
	f := newFixture()
	f.out.audioErr = errors.New("peer gone")

	err := f.pipeline().Run(context.Background(), "s1", utterance, settings, f.out)
	assert.ErrorIs(t, err, turn.ErrSynthesis)
	assert.ErrorIs(t, err, f.out.audioErr)
}

func TestRunEmptyTranscript(t *testing.T) {
	t.Run("skip", func(t *testing.T) {
		f := newFixture()
		f.stt = stt.NewMock("  ")

		require.NoError(t, f.pipeline().Run(context.Background(), "s1", utterance, settings, f.out))
		assert.Equal(t, 0, f.llm.CallCount("Stream"))
		assert.Empty(t, f.out.events)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("proceed", func(t *testing.T) {
		f := newFixture()
		f.stt = stt.NewMock("")

		p := f.pipeline(turn.WithEmptyTranscript(turn.ProceedOnEmpty))
		require.NoError(t, p.Run(context.Background(), "s1", utterance, settings, f.out))
		assert.Equal(t, 1, f.llm.CallCount("Stream"))

		msgs, _ := f.store.Messages(context.Background(), "s1")
		require.Len(t, msgs, 3)
		assert.Equal(t, history.NewUserMessage(""), msgs[1])
	})
}

func TestRunEmptyReplySkipsSynthesis(t *testing.T) {
	f := newFixture()
	f.llm = inference.NewMock("")

	require.NoError(t, f.pipeline().Run(context.Background(), "s1", utterance, settings, f.out))
	assert.Equal(t, 0, f.tts.CallCount("Stream"))
	assert.Equal(t, []string{"history", "history"}, f.out.kinds())
}

func TestRunSystemMessageOnce(t *testing.T) {
	f := newFixture()
	p := f.pipeline()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Run(ctx, "s1", utterance, settings, f.out))
	}

	msgs, err := f.store.Messages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 7)
	systems := 0
	for _, m := range msgs {
		if m.Role == history.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
	assert.Equal(t, history.RoleSystem, msgs[0].Role)
}

func TestRunSessionsIsolated(t *testing.T) {
	f := newFixture()
	p := f.pipeline()
	ctx := context.Background()

	require.NoError(t, p.Run(ctx, "a", utterance, settings, &recorder{}))
	require.NoError(t, p.Run(ctx, "b", utterance, settings, &recorder{}))
	bBefore, _ := f.store.Messages(ctx, "b")

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Run(ctx, "a", utterance, settings, &recorder{}))
	}

	bAfter, _ := f.store.Messages(ctx, "b")
	assert.Equal(t, bBefore, bAfter)
}

func TestRunConcurrentSessions(t *testing.T) {
	f := newFixture()
	p := f.pipeline()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				assert.NoError(t, p.Run(ctx, id, utterance, settings, &recorder{}))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		msgs, err := f.store.Messages(ctx, id)
		require.NoError(t, err)
		assert.Len(t, msgs, 5, id)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	f := newFixture()
	mc := turn.NewMetricsCollector()

	require.NoError(t, f.pipeline(turn.WithMetrics(mc)).Run(context.Background(), "s1", utterance, settings, f.out))

	m, ok := mc.Last()
	require.True(t, ok)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, 2, m.AudioFrames)
	assert.Equal(t, 3, m.AudioSamples)
	assert.Equal(t, len("It is noon."), m.ReplyChars)
	assert.GreaterOrEqual(t, m.TotalLatency, m.FirstAudio)
}
