package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/healthgate/internal/events"
	"github.com/angeloszaimis/healthgate/internal/healthcheck"
	"github.com/angeloszaimis/healthgate/internal/metrics"
	"github.com/angeloszaimis/healthgate/internal/registry"
	"github.com/angeloszaimis/healthgate/internal/status"
)

// fakeChecker answers from a per-target function and records concurrency.
type fakeChecker struct {
	mutex    sync.Mutex
	fn       map[string]func(ctx context.Context) healthcheck.ProbeResult
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{fn: make(map[string]func(ctx context.Context) healthcheck.ProbeResult)}
}

func (f *fakeChecker) on(name string, fn func(ctx context.Context) healthcheck.ProbeResult) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.fn[name] = fn
}

func (f *fakeChecker) Probe(ctx context.Context, target registry.Target) healthcheck.ProbeResult {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mutex.Lock()
	fn := f.fn[target.Name]
	f.mutex.Unlock()

	if fn == nil {
		return healthcheck.ProbeResult{Name: target.Name, Outcome: status.Up, ObservedAt: time.Now()}
	}
	return fn(ctx)
}

// stallingSink blocks every publish for delay.
type stallingSink struct {
	delay     time.Duration
	published atomic.Int32
}

func (s *stallingSink) Publish(context.Context, events.Event) error {
	time.Sleep(s.delay)
	s.published.Add(1)
	return nil
}

func mustRegistry(targets ...registry.Target) *registry.Registry {
	reg, err := registry.New(targets)
	Expect(err).NotTo(HaveOccurred())
	return reg
}

func outcomes(snap map[string]status.Entry) map[string]status.Outcome {
	out := make(map[string]status.Outcome, len(snap))
	for name, e := range snap {
		out[name] = e.Outcome
	}
	return out
}

var _ = Describe("Coordinator", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	Describe("RunSweep against real backends", func() {
		It("should mark a healthy target Up and a refused one Down", func() {
			healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer healthy.Close()

			refused := httptest.NewServer(http.NotFoundHandler())
			refusedURL := refused.URL
			refused.Close()

			reg := mustRegistry(
				registry.Target{Name: "svc_a", BaseURL: healthy.URL},
				registry.Target{Name: "svc_b", BaseURL: refusedURL},
			)
			table := status.NewTable(reg.Names())
			prober := healthcheck.NewProber(log, time.Second)
			coord := healthcheck.NewCoordinator(log, reg, prober, table)

			report := coord.RunSweep(context.Background())

			Expect(report.Committed).To(Equal(2))
			Expect(outcomes(table.Snapshot())).To(Equal(map[string]status.Outcome{
				"svc_a": status.Up,
				"svc_b": status.Down,
			}))
		})

		It("should update all entries when exactly one target times out", func() {
			fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer fast.Close()

			slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}))
			defer slow.Close()

			reg := mustRegistry(
				registry.Target{Name: "a", BaseURL: fast.URL},
				registry.Target{Name: "b", BaseURL: fast.URL},
				registry.Target{Name: "slow", BaseURL: slow.URL},
			)
			table := status.NewTable(reg.Names())
			coord := healthcheck.NewCoordinator(log, reg, healthcheck.NewProber(log, 100*time.Millisecond), table)

			report := coord.RunSweep(context.Background())

			Expect(report.Committed).To(Equal(3))
			snap := table.Snapshot()
			Expect(snap["a"].Outcome).To(Equal(status.Up))
			Expect(snap["b"].Outcome).To(Equal(status.Up))
			Expect(snap["slow"].Outcome).To(Equal(status.Down))
			for _, e := range snap {
				Expect(e.LastChecked.IsZero()).To(BeFalse())
			}
		})
	})

	Describe("fault containment", func() {
		var (
			reg     *registry.Registry
			table   *status.Table
			checker *fakeChecker
			coord   *healthcheck.Coordinator
		)

		BeforeEach(func() {
			reg = mustRegistry(
				registry.Target{Name: "a", BaseURL: "http://a"},
				registry.Target{Name: "b", BaseURL: "http://b"},
				registry.Target{Name: "c", BaseURL: "http://c"},
			)
			table = status.NewTable(reg.Names())
			checker = newFakeChecker()
			coord = healthcheck.NewCoordinator(log, reg, checker, table)
		})

		It("should record a panicking probe as Error and keep going", func() {
			checker.on("b", func(context.Context) healthcheck.ProbeResult {
				panic("boom")
			})

			var report healthcheck.SweepReport
			Expect(func() { report = coord.RunSweep(context.Background()) }).NotTo(Panic())

			Expect(report.Committed).To(Equal(3))
			b, _ := table.Get("b")
			Expect(b.Outcome).To(Equal(status.Error))
			Expect(b.Detail).To(ContainSubstring("boom"))

			a, _ := table.Get("a")
			Expect(a.Outcome).To(Equal(status.Up))
		})

		It("should treat an empty outcome as Error", func() {
			checker.on("c", func(context.Context) healthcheck.ProbeResult {
				return healthcheck.ProbeResult{}
			})

			coord.RunSweep(context.Background())

			c, _ := table.Get("c")
			Expect(c.Outcome).To(Equal(status.Error))
			Expect(c.LastChecked.IsZero()).To(BeFalse())
		})

		It("should key results by registry name", func() {
			checker.on("a", func(context.Context) healthcheck.ProbeResult {
				return healthcheck.ProbeResult{Name: "impostor", Outcome: status.Down, ObservedAt: time.Now()}
			})

			report := coord.RunSweep(context.Background())
			Expect(report.Committed).To(Equal(3))

			a, _ := table.Get("a")
			Expect(a.Outcome).To(Equal(status.Down))
		})

		It("should not leave stale entries when probes fail", func() {
			coord.RunSweep(context.Background())

			checker.on("a", func(context.Context) healthcheck.ProbeResult {
				return healthcheck.ProbeResult{Outcome: status.Down, Detail: "refused", ObservedAt: time.Now()}
			})
			coord.RunSweep(context.Background())

			a, _ := table.Get("a")
			Expect(a.Outcome).To(Equal(status.Down))
			Expect(a.Detail).To(Equal("refused"))
		})
	})

	Describe("concurrency", func() {
		It("should probe targets in parallel", func() {
			var targets []registry.Target
			checker := newFakeChecker()
			for _, name := range []string{"a", "b", "c", "d", "e"} {
				targets = append(targets, registry.Target{Name: name, BaseURL: "http://" + name})
				checker.on(name, func(context.Context) healthcheck.ProbeResult {
					time.Sleep(150 * time.Millisecond)
					return healthcheck.ProbeResult{Outcome: status.Up, ObservedAt: time.Now()}
				})
			}
			reg := mustRegistry(targets...)
			coord := healthcheck.NewCoordinator(log, reg, checker, status.NewTable(reg.Names()))

			start := time.Now()
			coord.RunSweep(context.Background())

			Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
			Expect(checker.peak.Load()).To(BeNumerically(">", 1))
		})

		It("should respect the concurrency cap", func() {
			checker := newFakeChecker()
			var targets []registry.Target
			for _, name := range []string{"a", "b", "c", "d"} {
				targets = append(targets, registry.Target{Name: name, BaseURL: "http://" + name})
				checker.on(name, func(context.Context) healthcheck.ProbeResult {
					time.Sleep(20 * time.Millisecond)
					return healthcheck.ProbeResult{Outcome: status.Up, ObservedAt: time.Now()}
				})
			}
			reg := mustRegistry(targets...)
			coord := healthcheck.NewCoordinator(log, reg, checker, status.NewTable(reg.Names()),
				healthcheck.WithMaxConcurrency(2))

			coord.RunSweep(context.Background())

			Expect(checker.peak.Load()).To(BeNumerically("<=", 2))
			Expect(checker.calls.Load()).To(Equal(int32(4)))
		})
	})

	Describe("monotonicity", func() {
		It("should never move last_checked backwards across sweeps", func() {
			reg := mustRegistry(registry.Target{Name: "a", BaseURL: "http://a"})
			table := status.NewTable(reg.Names())
			checker := newFakeChecker()
			coord := healthcheck.NewCoordinator(log, reg, checker, table)

			var previous time.Time
			for i := 0; i < 5; i++ {
				coord.RunSweep(context.Background())
				e, _ := table.Get("a")
				Expect(e.LastChecked.Before(previous)).To(BeFalse())
				previous = e.LastChecked
			}
		})

		It("should discard results older than the cached entry", func() {
			reg := mustRegistry(registry.Target{Name: "a", BaseURL: "http://a"})
			table := status.NewTable(reg.Names())
			checker := newFakeChecker()
			coord := healthcheck.NewCoordinator(log, reg, checker, table)

			coord.RunSweep(context.Background())
			before, _ := table.Get("a")

			checker.on("a", func(context.Context) healthcheck.ProbeResult {
				return healthcheck.ProbeResult{Outcome: status.Down, ObservedAt: before.LastChecked.Add(-time.Hour)}
			})
			report := coord.RunSweep(context.Background())

			Expect(report.Committed).To(Equal(0))
			after, _ := table.Get("a")
			Expect(after).To(Equal(before))
		})
	})

	Describe("cancellation", func() {
		It("should abandon the commit when the context is done", func() {
			reg := mustRegistry(registry.Target{Name: "a", BaseURL: "http://a"})
			table := status.NewTable(reg.Names())
			coord := healthcheck.NewCoordinator(log, reg, newFakeChecker(), table)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			report := coord.RunSweep(ctx)

			Expect(report.Abandoned).To(BeTrue())
			a, _ := table.Get("a")
			Expect(a.Outcome).To(Equal(status.Unknown))
		})
	})

	Describe("events and metrics", func() {
		It("should publish status changes only when the outcome flips", func() {
			reg := mustRegistry(registry.Target{Name: "a", BaseURL: "http://a"})
			table := status.NewTable(reg.Names())
			checker := newFakeChecker()
			hub := events.NewHub(8, events.KindStatusChanged)
			sub := hub.Subscribe()
			defer sub.Close()

			coord := healthcheck.NewCoordinator(log, reg, checker, table, healthcheck.WithEventSink(hub))

			coord.RunSweep(context.Background())
			var ev events.Event
			Eventually(sub.C).Should(Receive(&ev))
			Expect(ev.Previous).To(Equal("UNKNOWN"))
			Expect(ev.Outcome).To(Equal("UP"))

			coord.RunSweep(context.Background())
			Consistently(sub.C, 50*time.Millisecond).ShouldNot(Receive())

			checker.on("a", func(context.Context) healthcheck.ProbeResult {
				return healthcheck.ProbeResult{Outcome: status.Down, ObservedAt: time.Now()}
			})
			coord.RunSweep(context.Background())
			Eventually(sub.C).Should(Receive(&ev))
			Expect(ev.Previous).To(Equal("UP"))
			Expect(ev.Outcome).To(Equal("DOWN"))
		})

		It("should commit every entry before publishing to a slow sink", func() {
			reg := mustRegistry(
				registry.Target{Name: "a", BaseURL: "http://a"},
				registry.Target{Name: "b", BaseURL: "http://b"},
				registry.Target{Name: "c", BaseURL: "http://c"},
				registry.Target{Name: "d", BaseURL: "http://d"},
				registry.Target{Name: "e", BaseURL: "http://e"},
			)
			table := status.NewTable(reg.Names())
			sink := &stallingSink{delay: 200 * time.Millisecond}
			coord := healthcheck.NewCoordinator(log, reg, newFakeChecker(), table, healthcheck.WithEventSink(sink))

			done := make(chan struct{})
			go func() {
				defer close(done)
				coord.RunSweep(context.Background())
			}()

			Eventually(func() map[string]status.Outcome {
				return outcomes(table.Snapshot())
			}).WithTimeout(150 * time.Millisecond).WithPolling(5 * time.Millisecond).Should(Equal(map[string]status.Outcome{
				"a": status.Up, "b": status.Up, "c": status.Up, "d": status.Up, "e": status.Up,
			}))

			Eventually(done, 3*time.Second).Should(BeClosed())
			Expect(sink.published.Load()).To(Equal(int32(5)))
		})

		It("should not wait on a slow sink behind a dispatcher", func() {
			reg := mustRegistry(
				registry.Target{Name: "a", BaseURL: "http://a"},
				registry.Target{Name: "b", BaseURL: "http://b"},
				registry.Target{Name: "c", BaseURL: "http://c"},
			)
			sink := &stallingSink{delay: 200 * time.Millisecond}
			dispatcher := events.NewDispatcher(log, sink, 16)
			dispatcher.Start(context.Background())
			defer dispatcher.Close()

			coord := healthcheck.NewCoordinator(log, reg, newFakeChecker(), status.NewTable(reg.Names()),
				healthcheck.WithEventSink(dispatcher))

			start := time.Now()
			report := coord.RunSweep(context.Background())
			Expect(time.Since(start)).To(BeNumerically("<", 150*time.Millisecond))
			Expect(report.Committed).To(Equal(3))

			Eventually(sink.published.Load, 2*time.Second).Should(Equal(int32(3)))
		})

		It("should feed the metrics collector", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			collector := metrics.NewCollector(64, log)
			collector.Start(ctx)

			reg := mustRegistry(registry.Target{Name: "a", BaseURL: "http://a"})
			coord := healthcheck.NewCoordinator(log, reg, newFakeChecker(), status.NewTable(reg.Names()),
				healthcheck.WithCollector(collector))

			coord.RunSweep(context.Background())

			Eventually(func() int64 { return collector.Snapshot().Sweeps }).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Services["a"].Status).To(Equal("UP"))
			Expect(collector.Snapshot().Services["a"].Probes["UP"]).To(Equal(int64(1)))
		})
	})
})
