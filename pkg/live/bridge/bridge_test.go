package bridge

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/protocol"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

var testNow = time.Unix(1_700_000_000, 0)

func newAttachedBridge(t *testing.T) (*Bridge, *fakeSession, *fakeTransport) {
	t.Helper()
	b := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testNow }),
	)
	sess := &fakeSession{}
	tr := &fakeTransport{}
	b.Attach(sess, tr)
	return b, sess, tr
}

func itemEvent(raw string) transport.RawEvent {
	return transport.RawEvent{Type: transport.SessionEventItemCreated, Data: []byte(raw)}
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestBridge_TranscriptMapping(t *testing.T) {
	b, sess, _ := newAttachedBridge(t)

	var entries []live.TranscriptEntry
	b.On(live.EventTranscriptUpdated, func(ev live.Event) {
		entries = append(entries, ev.(*live.TranscriptUpdatedEvent).Entry)
	})

	sess.push(itemEvent(`{"type":"conversation.item.created","item":{"id":"item_1","role":"user","formatted":{"transcript":"I can't sleep"}}}`))
	sess.push(itemEvent(`{"type":"conversation.item.created","item":{"id":"item_2","role":"assistant"}}`))
	sess.push(itemEvent(`{"type":"conversation.item.created","item":{"id":"item_3","role":"system","formatted":{"transcript":"ignored"}}}`))
	sess.push(itemEvent(`{"type":"conversation.item.created","item":{"role":"user","content":[{"type":"input_text","text":"no id"}]}}`))

	want := []live.TranscriptEntry{
		{ID: "item_1", Role: live.RoleUser, Content: "I can't sleep", Timestamp: testNow},
		{ID: "item_2", Role: live.RoleAssistant, Content: "", Timestamp: testNow},
		{ID: "item_1700000000000_1", Role: live.RoleUser, Content: "no id", Timestamp: testNow},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("entries=%+v\nwant %+v", entries, want)
	}
}

func TestBridge_AudioAmplitude(t *testing.T) {
	b, sess, _ := newAttachedBridge(t)

	var levels []float64
	var viz []*live.AudioVisualizationEvent
	b.On(live.EventAudioLevel, func(ev live.Event) {
		levels = append(levels, ev.(*live.AudioLevelEvent).Level)
	})
	b.On(live.EventAudioVisualization, func(ev live.Event) {
		viz = append(viz, ev.(*live.AudioVisualizationEvent))
	})

	sess.push(transport.RawEvent{Type: transport.SessionEventAudio, Audio: pcm16(0, 0, 0, 0)})
	loud := make([]int16, 300)
	for i := range loud {
		loud[i] = math.MinInt16
	}
	sess.push(transport.RawEvent{Type: transport.SessionEventAudio, Audio: pcm16(loud...)})

	if !reflect.DeepEqual(levels, []float64{0, 1}) {
		t.Fatalf("levels=%v, want [0 1]", levels)
	}
	if len(viz) != 2 {
		t.Fatalf("visualization events=%d", len(viz))
	}
	if viz[1].Amplitude != 1 || len(viz[1].Waveform) != live.WaveformSamples {
		t.Fatalf("viz=%+v", viz[1])
	}
	if len(viz[0].Waveform) != 4 {
		t.Fatalf("short waveform len=%d", len(viz[0].Waveform))
	}
}

func TestBridge_SessionLifecycleEvents(t *testing.T) {
	b, sess, tr := newAttachedBridge(t)

	var names []live.EventName
	record := func(ev live.Event) { names = append(names, ev.EventName()) }
	for _, name := range []live.EventName{
		live.EventSessionReady, live.EventSessionUpdated, live.EventSessionError, live.EventSessionDisconnected,
		live.EventSpeechStarted, live.EventSpeechStopped, live.EventResponseCreated, live.EventResponseDone,
	} {
		b.On(name, record)
	}

	var gotErr error
	b.On(live.EventSessionError, func(ev live.Event) { gotErr = ev.(*live.SessionErrorEvent).Err })

	sess.push(transport.RawEvent{Type: transport.SessionEventCreated})
	sess.push(transport.RawEvent{Type: transport.SessionEventUpdated, Data: []byte(`{"type":"session.updated","session":{"voice":"verse"}}`)})
	tr.push(transport.RawEvent{Type: protocol.TypeSpeechStarted})
	tr.push(transport.RawEvent{Type: protocol.TypeSpeechStopped})
	tr.push(transport.RawEvent{Type: protocol.TypeResponseCreated})
	tr.push(transport.RawEvent{Type: "rate_limits.updated"})
	tr.push(transport.RawEvent{Type: protocol.TypeResponseDone})
	sess.push(transport.RawEvent{Type: transport.SessionEventError, Err: core.NewSessionError("bad", nil)})
	sess.push(transport.RawEvent{Type: "something.new"})
	sess.push(transport.RawEvent{Type: transport.SessionEventDisconnect, Err: errors.New("close 1011")})

	want := []live.EventName{
		live.EventSessionReady, live.EventSessionUpdated,
		live.EventSpeechStarted, live.EventSpeechStopped,
		live.EventResponseCreated, live.EventResponseDone,
		live.EventSessionError, live.EventSessionDisconnected,
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names=%v\nwant %v", names, want)
	}
	if !core.IsType(gotErr, core.ErrSession) {
		t.Fatalf("session error=%v", gotErr)
	}
}

func TestBridge_SessionUpdatedCarriesSessionObject(t *testing.T) {
	b, sess, _ := newAttachedBridge(t)
	var raw string
	b.On(live.EventSessionUpdated, func(ev live.Event) { raw = string(ev.(*live.SessionUpdatedEvent).Raw) })
	sess.push(transport.RawEvent{Type: transport.SessionEventUpdated, Data: []byte(`{"type":"session.updated","session":{"voice":"verse"}}`)})
	if raw != `{"voice":"verse"}` {
		t.Fatalf("raw=%s", raw)
	}
}

func TestBridge_PanickingListenerIsIsolated(t *testing.T) {
	b, sess, _ := newAttachedBridge(t)

	var order []string
	b.On(live.EventSessionReady, func(live.Event) { order = append(order, "first") })
	b.On(live.EventSessionReady, func(live.Event) { panic("listener bug") })
	b.On(live.EventSessionReady, func(live.Event) { order = append(order, "third") })

	sess.push(transport.RawEvent{Type: transport.SessionEventCreated})
	sess.push(transport.RawEvent{Type: transport.SessionEventCreated})

	want := []string{"first", "third", "first", "third"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order=%v, want %v", order, want)
	}
}

func TestBridge_DeliveryOrderMatchesSource(t *testing.T) {
	b, sess, _ := newAttachedBridge(t)
	var ids []string
	b.On(live.EventTranscriptUpdated, func(ev live.Event) {
		ids = append(ids, ev.(*live.TranscriptUpdatedEvent).Entry.ID)
	})
	var want []string
	for i := 0; i < 20; i++ {
		id := "item_" + strings.Repeat("x", i)
		want = append(want, id)
		sess.push(itemEvent(`{"type":"conversation.item.created","item":{"id":"` + id + `","role":"user"}}`))
	}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids=%v", ids)
	}
}

func TestBridge_Off(t *testing.T) {
	b, sess, _ := newAttachedBridge(t)
	calls := 0
	id := b.On(live.EventSessionReady, func(live.Event) { calls++ })
	other := 0
	b.On(live.EventSessionReady, func(live.Event) { other++ })

	sess.push(transport.RawEvent{Type: transport.SessionEventCreated})
	b.Off(live.EventSessionReady, id)
	b.Off(live.EventSessionReady, id)
	sess.push(transport.RawEvent{Type: transport.SessionEventCreated})

	if calls != 1 || other != 2 {
		t.Fatalf("calls=%d other=%d", calls, other)
	}
}

func TestBridge_RemoveAllListenersDetaches(t *testing.T) {
	b, sess, tr := newAttachedBridge(t)
	calls := 0
	b.On(live.EventSessionReady, func(live.Event) { calls++ })

	b.RemoveAllListeners()

	if sess.subscriberCount() != 0 || tr.subscriberCount() != 0 {
		t.Fatalf("sources still subscribed: session=%d transport=%d", sess.subscriberCount(), tr.subscriberCount())
	}
	sess.push(transport.RawEvent{Type: transport.SessionEventCreated})
	b.Emit(&live.SessionReadyEvent{})
	if calls != 0 {
		t.Fatalf("listener ran after RemoveAllListeners")
	}
	if b.Attached() {
		t.Fatalf("bridge still attached")
	}
}

func TestBridge_TriggerAndCancelResponse(t *testing.T) {
	b, _, tr := newAttachedBridge(t)

	b.TriggerResponse("")
	b.TriggerResponse("Deepen the relaxation")
	b.CancelResponse()

	sent := tr.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	first := sent[0].(protocol.ResponseCreate)
	if first.Response.Instructions != protocol.DefaultResponsePrompt {
		t.Fatalf("instructions=%q", first.Response.Instructions)
	}
	if got := sent[1].(protocol.ResponseCreate).Response.Instructions; got != "Deepen the relaxation" {
		t.Fatalf("instructions=%q", got)
	}
	if _, ok := sent[2].(protocol.ResponseCancel); !ok {
		t.Fatalf("third message=%T", sent[2])
	}
}

func TestBridge_ControlIsNoOpWhenDetached(t *testing.T) {
	b := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	b.TriggerResponse("x")
	b.CancelResponse()

	tr := &fakeTransport{}
	b.Attach(nil, tr)
	b.RemoveAllListeners()
	b.TriggerResponse("x")
	if len(tr.sentMessages()) != 0 {
		t.Fatalf("sent after detach")
	}
}

func TestBridge_ReattachReplacesSources(t *testing.T) {
	b, sess, tr := newAttachedBridge(t)
	sess2, tr2 := &fakeSession{}, &fakeTransport{}
	b.Attach(sess2, tr2)
	if sess.subscriberCount() != 0 || tr.subscriberCount() != 0 {
		t.Fatalf("old sources still subscribed")
	}
	if sess2.subscriberCount() != 1 || tr2.subscriberCount() != 1 {
		t.Fatalf("new sources not subscribed")
	}
}

func TestDecodeSessionEvent_MalformedItemIsUnknown(t *testing.T) {
	ev := decodeSessionEvent(itemEvent(`{"type":"conversation.item.created","item":7}`))
	if _, ok := ev.(unknownEvent); !ok {
		t.Fatalf("decoded=%T, want unknownEvent", ev)
	}
}
