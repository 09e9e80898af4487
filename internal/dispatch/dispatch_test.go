package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-ai/delphi/internal/cache"
	"github.com/solstice-ai/delphi/internal/model"
	"github.com/solstice-ai/delphi/internal/testutil"
)

// scriptedCaller returns canned replies per model id and tracks concurrency.
type scriptedCaller struct {
	mu          sync.Mutex
	replies     map[string]string // modelID -> reply
	errs        map[string]error  // modelID -> error
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func (c *scriptedCaller) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			c.mu.Lock()
			c.inFlight--
			c.mu.Unlock()
			return "", ctx.Err()
		}
	}

	c.mu.Lock()
	c.inFlight--
	err := c.errs[modelID]
	reply := c.replies[modelID]
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	return reply, nil
}

func testPanel() model.Panel {
	return model.Panel{
		{Name: "alpha", Persona: "You are alpha.", Model: "model-a", BaseWeight: 1.0},
		{Name: "beta", Persona: "You are beta.", Model: "model-b", BaseWeight: 1.0},
		{Name: "gamma", Persona: "You are gamma.", Model: "model-c", BaseWeight: 1.0},
	}
}

func testStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(":memory:", time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testQuestion(t *testing.T) model.Question {
	t.Helper()
	q, err := model.NewQuestion("Will the oil pipeline reopen this quarter?")
	require.NoError(t, err)
	return q
}

const structuredReply = `{"analysis": "flows resume after repairs", "probability": 0.7, "confidence": 0.6, "recommendation": "watch maintenance reports"}`

func TestDispatchOneResponsePerMember(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a": structuredReply,
		"model-b": `{"declined": true, "reason": "outside my specialty"}`,
	}, errs: map[string]error{
		"model-c": errors.New("backend model-c: status 500"),
	}}
	d := New(caller, testStore(t), 0, testutil.TestLogger())

	responses := d.Dispatch(context.Background(), testPanel(), testQuestion(t), "ctx")
	require.Len(t, responses, 3)

	assert.Equal(t, "alpha", responses[0].Agent)
	assert.Equal(t, model.StatusSucceeded, responses[0].Status)
	require.NotNil(t, responses[0].Brief)
	assert.InDelta(t, 0.7, responses[0].Brief.Probability, 1e-9)

	assert.Equal(t, model.StatusDeclined, responses[1].Status)
	assert.Equal(t, "outside my specialty", responses[1].DeclineReason)
	assert.Nil(t, responses[1].Brief)

	assert.Equal(t, model.StatusFailed, responses[2].Status)
	assert.Contains(t, responses[2].Error, "status 500")
}

func TestDispatchUsesCache(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a": structuredReply,
		"model-b": structuredReply,
		"model-c": structuredReply,
	}}
	d := New(caller, testStore(t), 0, testutil.TestLogger())
	q := testQuestion(t)

	first := d.Dispatch(context.Background(), testPanel(), q, "ctx")
	for _, r := range first {
		assert.False(t, r.Cached, r.Agent)
	}
	assert.Equal(t, 3, caller.calls)

	second := d.Dispatch(context.Background(), testPanel(), q, "ctx")
	for _, r := range second {
		assert.True(t, r.Cached, r.Agent)
		assert.Equal(t, model.StatusSucceeded, r.Status)
	}
	assert.Equal(t, 3, caller.calls, "cached run makes no model calls")
}

func TestDispatchCachesDeclines(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a": `{"declined": true, "reason": "not my field"}`,
	}}
	panel := model.Panel{{Name: "alpha", Persona: "p", Model: "model-a", BaseWeight: 1.0}}
	d := New(caller, testStore(t), 0, testutil.TestLogger())
	q := testQuestion(t)

	d.Dispatch(context.Background(), panel, q, "ctx")
	second := d.Dispatch(context.Background(), panel, q, "ctx")

	assert.Equal(t, 1, caller.calls, "a cached decline is not re-asked")
	assert.Equal(t, model.StatusDeclined, second[0].Status)
	assert.True(t, second[0].Cached)
}

func TestDispatchFailuresNotCached(t *testing.T) {
	caller := &scriptedCaller{
		replies: map[string]string{},
		errs:    map[string]error{"model-a": errors.New("boom")},
	}
	panel := model.Panel{{Name: "alpha", Persona: "p", Model: "model-a", BaseWeight: 1.0}}
	d := New(caller, testStore(t), 0, testutil.TestLogger())
	q := testQuestion(t)

	d.Dispatch(context.Background(), panel, q, "ctx")

	caller.mu.Lock()
	caller.errs = map[string]error{}
	caller.replies["model-a"] = structuredReply
	caller.mu.Unlock()

	second := d.Dispatch(context.Background(), panel, q, "ctx")
	assert.Equal(t, model.StatusSucceeded, second[0].Status)
	assert.False(t, second[0].Cached, "the retry after a failure is a fresh call")
}

func TestDispatchUnparsedStillSucceeds(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a": "I believe this is fairly likely based on recent events.",
	}}
	panel := model.Panel{{Name: "alpha", Persona: "p", Model: "model-a", BaseWeight: 1.0}}
	d := New(caller, testStore(t), 0, testutil.TestLogger())

	responses := d.Dispatch(context.Background(), panel, testQuestion(t), "ctx")
	assert.Equal(t, model.StatusSucceeded, responses[0].Status)
	assert.Nil(t, responses[0].Brief)
	assert.False(t, responses[0].Voting())
	assert.True(t, responses[0].Usable())
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	panel := make(model.Panel, 8)
	replies := make(map[string]string, 8)
	for i := range panel {
		name := string(rune('a' + i))
		panel[i] = model.AgentProfile{Name: name, Persona: "p", Model: "model-" + name, BaseWeight: 1.0}
		replies["model-"+name] = structuredReply
	}
	caller := &scriptedCaller{replies: replies, delay: 20 * time.Millisecond}
	d := New(caller, testStore(t), 2, testutil.TestLogger())

	d.Dispatch(context.Background(), panel, testQuestion(t), "ctx")
	assert.LessOrEqual(t, caller.maxInFlight, 2)
	assert.Equal(t, 8, caller.calls)
}

func TestDispatchContextCancellation(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{
		"model-a": structuredReply, "model-b": structuredReply, "model-c": structuredReply,
	}, delay: time.Second}
	d := New(caller, testStore(t), 0, testutil.TestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	responses := d.Dispatch(ctx, testPanel(), testQuestion(t), "ctx")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	for _, r := range responses {
		assert.Equal(t, model.StatusFailed, r.Status, r.Agent)
	}
}

func TestRequeryReplacesCachedEntry(t *testing.T) {
	caller := &scriptedCaller{replies: map[string]string{"model-a": structuredReply}}
	profile := model.AgentProfile{Name: "alpha", Persona: "p", Model: "model-a", BaseWeight: 1.0}
	store := testStore(t)
	d := New(caller, store, 0, testutil.TestLogger())
	q := testQuestion(t)

	d.Dispatch(context.Background(), model.Panel{profile}, q, "ctx")

	deeper := `{"analysis": "deeper causal chain with sources", "probability": 0.55, "confidence": 0.7, "recommendation": "reassess weekly"}`
	caller.mu.Lock()
	caller.replies["model-a"] = deeper
	caller.mu.Unlock()

	resp := d.Requery(context.Background(), profile, q, "expanded prompt")
	require.Equal(t, model.StatusSucceeded, resp.Status)
	assert.InDelta(t, 0.55, resp.Brief.Probability, 1e-9)

	// The cache now serves the requeried answer.
	entry, err := store.Get(context.Background(), q.Hash, "alpha")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, entry.Brief.Probability, 1e-9)
}

func TestPromptContainsDeclineProtocol(t *testing.T) {
	profile := model.AgentProfile{Name: "alpha", Persona: "You are a test analyst.", Model: "m", BaseWeight: 1.0}
	p := Prompt(profile, "some context", "Will it happen?")

	assert.True(t, strings.Contains(p, "alpha"))
	assert.True(t, strings.Contains(p, "You are a test analyst."))
	assert.True(t, strings.Contains(p, `"declined": true`))
	assert.True(t, strings.Contains(p, "Will it happen?"))

	empty := Prompt(profile, "", "Will it happen?")
	assert.True(t, strings.Contains(empty, "No context available."))
}
