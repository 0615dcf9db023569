package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

func TestController_SubmitWithoutNode(t *testing.T) {
	node, _, _ := newTestNode(t, ringfilter.DefaultFilterConfig())
	c := NewController(node)

	assert.Equal(t, ringfilter.DefaultFilterConfig(), c.Current())
	err := c.Submit(ringfilter.FilterConfig{RingDivisor: 2}, "test")
	assert.ErrorContains(t, err, "no subscriber")
}

func TestController_SubmitAppliedByRunningNode(t *testing.T) {
	node, rt, _ := newTestNode(t, ringfilter.DefaultFilterConfig())
	c := NewController(node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Run(ctx)
	require.Eventually(t, func() bool { return rt.Config.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	want := ringfilter.FilterConfig{RingDivisor: 4, VoxelLeafSize: 0.5}
	require.NoError(t, c.Submit(want, "test"))
	require.Eventually(t, func() bool { return c.Version() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, want, c.Current())
}

func TestController_SubmitAfterClose(t *testing.T) {
	node, rt, _ := newTestNode(t, ringfilter.DefaultFilterConfig())
	rt.Close()
	err := NewController(node).Submit(ringfilter.DefaultFilterConfig(), "test")
	assert.Error(t, err)
}
