package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_SubscribePublish(t *testing.T) {
	topic := NewTopic[int]("test")
	defer topic.Close()

	a, err := topic.Subscribe("a", 4)
	require.NoError(t, err)
	b, err := topic.Subscribe("b", 4)
	require.NoError(t, err)

	n, err := topic.Publish(7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-b)
}

func TestTopic_DuplicateSubscriber(t *testing.T) {
	topic := NewTopic[int]("test")
	_, err := topic.Subscribe("a", 1)
	require.NoError(t, err)
	_, err = topic.Subscribe("a", 1)
	assert.True(t, errors.Is(err, ErrSubscriberExists))
}

func TestTopic_DropsWhenFull(t *testing.T) {
	topic := NewTopic[int]("test")
	ch, err := topic.Subscribe("slow", 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := topic.Publish(i)
		require.NoError(t, err)
	}

	stats := topic.Stats()
	assert.Equal(t, uint64(5), stats.TotalPublished)
	assert.Equal(t, uint64(2), stats.TotalSent)
	assert.Equal(t, uint64(3), stats.TotalDropped)
	assert.Equal(t, SubscriberStats{Sent: 2, Dropped: 3}, stats.Subscribers["slow"])

	// The oldest values are kept; new ones are dropped.
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
}

func TestTopic_PublishWithoutSubscribers(t *testing.T) {
	topic := NewTopic[string]("empty")
	n, err := topic.Publish("x")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(1), topic.Stats().TotalPublished)
}

func TestTopic_Unsubscribe(t *testing.T) {
	topic := NewTopic[int]("test")
	ch, err := topic.Subscribe("a", 1)
	require.NoError(t, err)
	_, _ = topic.Publish(1)

	require.NoError(t, topic.Unsubscribe("a"))
	assert.ErrorIs(t, topic.Unsubscribe("a"), ErrSubscriberNotFound)

	v, ok := <-ch
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = <-ch
	assert.False(t, ok, "channel closed after unsubscribe")

	assert.Equal(t, 0, topic.SubscriberCount())
	assert.Equal(t, uint64(1), topic.Stats().TotalSent, "retired counters kept in totals")
}

func TestTopic_Close(t *testing.T) {
	topic := NewTopic[int]("test")
	ch, err := topic.Subscribe("a", 1)
	require.NoError(t, err)

	require.NoError(t, topic.Close())
	require.NoError(t, topic.Close())

	_, ok := <-ch
	assert.False(t, ok)

	_, err = topic.Publish(1)
	assert.ErrorIs(t, err, ErrTopicClosed)
	_, err = topic.Subscribe("b", 1)
	assert.ErrorIs(t, err, ErrTopicClosed)
	assert.ErrorIs(t, topic.Unsubscribe("a"), ErrTopicClosed)
}

func TestTopic_ConcurrentPublishClose(t *testing.T) {
	topic := NewTopic[int]("race")
	ch, err := topic.Subscribe("a", 16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if _, err := topic.Publish(i); err != nil {
					return
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()

	wg.Wait()
	require.NoError(t, topic.Close())
	<-done

	s := topic.Stats()
	assert.Equal(t, s.TotalPublished, s.TotalSent+s.TotalDropped)
}
