package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

func TestEmitterPreservesOrder(t *testing.T) {
	em := NewEmitter(4)
	ctx := context.Background()

	go func() {
		for i := 0; i < 100; i++ {
			assert.NoError(t, em.Content(ctx, string(rune('a'+i%26))))
		}
		assert.NoError(t, em.Done(ctx, "ok", nil))
		em.Close()
	}()

	all, terminal, ok := Collect(em.Events())
	require.True(t, ok)
	require.Len(t, all, 101)
	assert.Equal(t, protocol.EventDone, terminal.Event)
	for i := 0; i < 100; i++ {
		assert.Equal(t, string(rune('a'+i%26)), all[i].Data["text"])
	}
}

func TestEmitterRejectsEventsAfterTerminal(t *testing.T) {
	em := NewEmitter(8)
	ctx := context.Background()

	require.NoError(t, em.Error(ctx, "boom", protocol.LayerRuntime, nil))
	assert.ErrorIs(t, em.Done(ctx, "late", nil), ErrTerminated)
	assert.ErrorIs(t, em.Content(ctx, "late"), ErrTerminated)
	em.Close()

	all, terminal, ok := Collect(em.Events())
	require.True(t, ok)
	assert.Len(t, all, 1)
	assert.Equal(t, "boom", terminal.Data["message"])
	assert.Equal(t, protocol.EventError, em.Terminal())
}

func TestEmitAfterClose(t *testing.T) {
	ctx := context.Background()

	lenient := NewEmitter(1, WithStrict(false))
	lenient.Close()
	lenient.Close()
	assert.NoError(t, lenient.Content(ctx, "x"))

	strict := NewEmitter(1, WithStrict(true))
	strict.Close()
	assert.ErrorIs(t, strict.Content(ctx, "x"), ErrClosed)
}

func TestEmitterBackpressureBlocksProducer(t *testing.T) {
	em := NewEmitter(1)
	ctx := context.Background()

	require.NoError(t, em.Content(ctx, "first"))

	sent := make(chan struct{})
	go func() {
		_ = em.Content(ctx, "second")
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatal("emit should block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-em.Events()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("emit did not resume after consumer read")
	}
}

func TestEmitterDetachUnblocksProducer(t *testing.T) {
	em := NewEmitter(1)
	ctx := context.Background()
	require.NoError(t, em.Content(ctx, "fill"))

	errc := make(chan error, 1)
	go func() { errc <- em.Content(ctx, "blocked") }()

	em.Detach()
	em.Detach()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(time.Second):
		t.Fatal("detach did not unblock the producer")
	}
}

func TestEmitterContextCancelUnblocksProducer(t *testing.T) {
	em := NewEmitter(1)
	require.NoError(t, em.Content(context.Background(), "fill"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, em.Content(ctx, "blocked"), context.Canceled)
}

func TestEmitterCancelledContextStillUsesFreeSlot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		em := NewEmitter(2)
		require.NoError(t, em.Error(ctx, "session cancelled", protocol.LayerSession, nil))
		assert.Equal(t, "error", em.Terminal())
		ev := <-em.Events()
		assert.Equal(t, protocol.LayerSession, ev.Data["layer"])
	}
}

func TestDebugEventsOnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()

	off := NewEmitter(4)
	require.NoError(t, off.Debug(ctx, map[string]interface{}{"k": "v"}))
	off.Close()
	all, _, _ := Collect(off.Events())
	assert.Empty(t, all)

	on := NewEmitter(4, WithDebug(true))
	require.NoError(t, on.Debug(ctx, map[string]interface{}{"k": "v"}))
	on.Close()
	all, _, _ = Collect(on.Events())
	require.Len(t, all, 1)
	assert.Equal(t, protocol.EventDebug, all[0].Event)
}

func TestWriteNDJSON(t *testing.T) {
	em := NewEmitter(8)
	ctx := context.Background()
	require.NoError(t, em.Status(ctx, protocol.StatusRunning, nil))
	require.NoError(t, em.Error(ctx, "not found", "", nil))
	em.Close()

	var buf bytes.Buffer
	require.NoError(t, WriteNDJSON(&buf, em.Events()))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"status","data":{"status":"running"}}`, string(lines[0]))
	assert.JSONEq(t, `{"event":"error","data":{"message":"not found"}}`, string(lines[1]))
}

func TestConcurrentEmittersDoNotInterleave(t *testing.T) {
	const sessions = 50
	var wg sync.WaitGroup
	outputs := make([]bytes.Buffer, sessions)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			em := NewEmitter(2)
			go func() {
				ctx := context.Background()
				for j := 0; j < 20; j++ {
					_ = em.Emit(ctx, protocol.EventContent, map[string]interface{}{"session": i, "seq": j})
				}
				_ = em.Done(ctx, "ok", map[string]interface{}{"session": i})
				em.Close()
			}()
			_ = WriteNDJSON(&outputs[i], em.Events())
		}(i)
	}
	wg.Wait()

	for i := range outputs {
		sc := bufio.NewScanner(&outputs[i])
		seq := 0
		for sc.Scan() {
			var ev protocol.Event
			require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
			assert.EqualValues(t, i, ev.Data["session"])
			if ev.Event == protocol.EventContent {
				assert.EqualValues(t, seq, ev.Data["seq"])
				seq++
			}
		}
		assert.Equal(t, 20, seq)
	}
}

func TestExactlyOneTerminalProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	kinds := []string{
		protocol.EventStatus, protocol.EventContent, protocol.EventToolUse,
		protocol.EventToolResult, protocol.EventError, protocol.EventDone,
	}

	properties.Property("at most one terminal event and nothing after it", prop.ForAll(
		func(picks []int) bool {
			em := NewEmitter(len(picks) + 1)
			ctx := context.Background()
			for _, p := range picks {
				_ = em.Emit(ctx, kinds[p%len(kinds)], nil)
			}
			em.Close()
			all, _, _ := Collect(em.Events())
			terminals := 0
			for i, ev := range all {
				if ev.IsTerminal() {
					terminals++
					if i != len(all)-1 {
						return false
					}
				}
			}
			return terminals <= 1
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
