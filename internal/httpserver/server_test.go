package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/healthgate/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	Context("server creation", func() {
		DescribeTable("accepted addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).NotTo(HaveOccurred())
				Expect(srv.Addr()).To(Equal(addr))
			},
			Entry("host and port", "localhost:9999"),
			Entry("IP and port", "127.0.0.1:9999"),
			Entry("port only", ":9999"),
		)

		DescribeTable("rejected addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			},
			Entry("too many colons", "invalid:host:port"),
			Entry("missing port", "localhost"),
			Entry("empty port", "localhost:"),
		)
	})

	Context("server lifecycle", func() {
		var (
			srv      *httpserver.Server
			listener net.Listener
			serveErr chan error
		)

		start := func(handler http.Handler, opts ...httpserver.Option) {
			var err error
			srv, err = httpserver.New("127.0.0.1:0", handler, opts...)
			Expect(err).NotTo(HaveOccurred())

			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			serveErr = make(chan error, 1)
			go func() {
				serveErr <- srv.Serve(listener)
			}()
		}

		AfterEach(func() {
			if srv != nil {
				_ = srv.Shutdown(context.Background())
			}
		})

		It("handles requests", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("test"))
			}))

			resp, err := http.Get("http://" + listener.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("shuts down gracefully and reports a clean exit", func() {
			start(noop)

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(serveErr).Should(Receive(BeNil()))
		})

		It("cancels long-lived request contexts on shutdown", func() {
			released := make(chan struct{})
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
				close(released)
			}), httpserver.WithShutdownTimeout(2*time.Second))

			go func() {
				defer GinkgoRecover()
				resp, err := http.Get("http://" + listener.Addr().String())
				if err == nil {
					resp.Body.Close()
				}
			}()

			Eventually(func() error {
				conn, err := net.Dial("tcp", listener.Addr().String())
				if err == nil {
					conn.Close()
				}
				return err
			}).Should(Succeed())
			time.Sleep(50 * time.Millisecond)

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(released).Should(BeClosed())
		})
	})
})
