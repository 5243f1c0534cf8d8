package events_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/healthgate/internal/events"
)

// slowSink blocks every publish for delay and records what it saw.
type slowSink struct {
	delay time.Duration

	mutex sync.Mutex
	seen  []events.Event
}

func (s *slowSink) Publish(_ context.Context, ev events.Event) error {
	time.Sleep(s.delay)
	s.mutex.Lock()
	s.seen = append(s.seen, ev)
	s.mutex.Unlock()
	return nil
}

func (s *slowSink) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.seen)
}

var _ = Describe("Dispatcher", func() {
	var (
		log  *slog.Logger
		sink *slowSink
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		sink = &slowSink{delay: 50 * time.Millisecond}
	})

	It("should return immediately while the sink is slow", func() {
		d := events.NewDispatcher(log, sink, 16)
		d.Start(context.Background())
		defer d.Close()

		start := time.Now()
		for i := 0; i < 5; i++ {
			Expect(d.Publish(context.Background(), events.Event{Kind: events.KindProbe})).To(Succeed())
		}
		Expect(time.Since(start)).To(BeNumerically("<", 20*time.Millisecond))

		Eventually(sink.count).Should(Equal(5))
	})

	It("should drop events when the queue is full", func() {
		d := events.NewDispatcher(log, sink, 2)

		Expect(d.Publish(context.Background(), events.Event{})).To(Succeed())
		Expect(d.Publish(context.Background(), events.Event{})).To(Succeed())
		Expect(d.Publish(context.Background(), events.Event{})).To(MatchError(events.ErrQueueFull))
		Expect(d.Dropped()).To(Equal(int64(1)))
	})

	It("should flush queued events on Close", func() {
		d := events.NewDispatcher(log, sink, 16)
		for i := 0; i < 3; i++ {
			Expect(d.Publish(context.Background(), events.Event{})).To(Succeed())
		}

		d.Start(context.Background())
		d.Close()

		Expect(sink.count()).To(Equal(3))
	})

	It("should tolerate Close before Start", func() {
		d := events.NewDispatcher(log, sink, 1)
		Expect(d.Close).NotTo(Panic())
	})
})
