package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	commits []int64
	closed  bool
}

func (s *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func (s *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.commits = append(s.commits, m.Offset)
	}
	return nil
}

func (s *scriptedReader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedReader) committed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.commits...)
}

// A failing handler must leave its offset uncommitted so the message is
// redelivered; only handled messages advance the group offset.
func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		{Offset: 10, Value: []byte("bad")},
		{Offset: 11, Value: []byte("ok")},
	}}
	c := &Consumer{r: r, workers: 1}

	err := c.Start(context.Background(), func(ctx context.Context, m kafka.Message) error {
		if string(m.Value) == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	require.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		got := r.committed()
		return len(got) == 1 && got[0] == 11
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerStopsCleanOnCancel(t *testing.T) {
	r := &scriptedReader{}
	c := &Consumer{r: r, workers: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// FetchMessage returns EOF immediately, but with the ctx already done the
	// exit is reported as a clean stop
	require.NoError(t, c.Start(ctx, func(ctx context.Context, m kafka.Message) error { return nil }))
}
