package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserQueues_SingleWorkerPerUser(t *testing.T) {
	q := &userQueues{pending: make(map[string][]bus.InboundMessage)}

	assert.True(t, q.push(inbound("a", "1", bus.KindText)))
	assert.False(t, q.push(inbound("a", "2", bus.KindText)))
	assert.True(t, q.push(inbound("b", "1", bus.KindText)))

	next, ok := q.next("test:a")
	require.True(t, ok)
	assert.Equal(t, "2", next.Content)

	_, ok = q.next("test:a")
	assert.False(t, ok)
	assert.True(t, q.push(inbound("a", "3", bus.KindText)), "released user needs a new worker")
}

func TestRun_ServesUsersConcurrentlyInOrder(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	prompts := map[string][]string{}
	h.completer.fn = func(_ context.Context, req providers.CompletionRequest) (providers.Completion, error) {
		mu.Lock()
		defer mu.Unlock()
		user := req.Prompt[:1]
		prompts[user] = append(prompts[user], req.Prompt)
		return providers.Completion{Answer: "re " + req.Prompt, TokensUsed: 10}, nil
	}

	const perUser = 5
	for i := 0; i < perUser; i++ {
		for _, user := range []string{"a", "b", "c"} {
			require.True(t, h.bus.PublishInbound(inbound(user, fmt.Sprintf("%s%d", user, i), bus.KindText)))
		}
	}
	h.bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Run(ctx))

	for _, user := range []string{"a", "b", "c"} {
		want := make([]string, 0, perUser)
		for i := 0; i < perUser; i++ {
			want = append(want, fmt.Sprintf("%s%d", user, i))
		}
		assert.Equal(t, want, prompts[user])
		assert.Len(t, h.history(t, user), perUser)
		assert.Equal(t, int64(10*perUser), h.tokens(t, user))
	}
	assert.Len(t, h.transport.texts(), 3*perUser)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_RequiresBus(t *testing.T) {
	h := newHarness(t)
	h.orch.bus = nil
	assert.Error(t, h.orch.Run(context.Background()))
}
