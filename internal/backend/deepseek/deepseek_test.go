package deepseek_test

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ZhenchangMin/AI-study-copilot/internal/backend"
	"github.com/ZhenchangMin/AI-study-copilot/internal/backend/deepseek"
)

func completion(content string) string {
	return fmt.Sprintf(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "deepseek-chat",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
	}`, content)
}

type sentRequest struct {
	Model       string            `json:"model"`
	Messages    []json.RawMessage `json:"messages"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

var _ = Describe("DeepSeek backend", func() {
	var (
		upstream *httptest.Server
		respond  http.HandlerFunc
		calls    atomic.Int32

		mu         sync.Mutex
		lastPath   string
		lastHeader http.Header
		lastBody   []byte

		turns []json.RawMessage
		ctx   context.Context
	)

	newBackend := func(opts deepseek.Options) *deepseek.Backend {
		opts.Endpoint = upstream.URL
		if opts.RetryBackoff == 0 {
			opts.RetryBackoff = time.Millisecond
		}
		return deepseek.NewDeepseekBackend(opts)
	}

	lastRequest := func() sentRequest {
		mu.Lock()
		defer mu.Unlock()
		var sent sentRequest
		Expect(json.Unmarshal(lastBody, &sent)).To(Succeed())
		return sent
	}

	BeforeEach(func() {
		ctx = context.Background()
		calls.Store(0)
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, completion("stub-reply"))
		}

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			lastPath = r.URL.Path
			lastHeader = r.Header.Clone()
			lastBody = body
			mu.Unlock()
			respond(w, r)
		}))
		DeferCleanup(upstream.Close)

		turns = []json.RawMessage{
			json.RawMessage(`{"role":"system","content":"You are a helpful study copilot."}`),
			json.RawMessage(`{"role":"user","content":"hi"}`),
		}
	})

	Describe("Name", func() {
		It("returns 'deepseek'", func() {
			Expect(newBackend(deepseek.Options{}).Name()).To(Equal("deepseek"))
		})
	})

	Describe("Complete", func() {
		It("returns the first choice's content", func() {
			reply, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("stub-reply"))
			Expect(calls.Load()).To(BeEquivalentTo(1))
		})

		It("posts to /chat/completions with bearer auth", func() {
			_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
			Expect(err).NotTo(HaveOccurred())

			mu.Lock()
			defer mu.Unlock()
			Expect(lastPath).To(Equal("/chat/completions"))
			Expect(lastHeader.Get("Authorization")).To(Equal("Bearer test-key"))
			Expect(lastHeader.Get("Content-Type")).To(Equal("application/json"))
		})

		It("forwards the conversation without adding, dropping or reordering turns", func() {
			turns = append(turns,
				json.RawMessage(`{"role":"assistant","content":"Hello! What are we studying?"}`),
				json.RawMessage(`{"content":"Explain recursion","role":"user","name":"alice"}`),
			)

			_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
			Expect(err).NotTo(HaveOccurred())

			sent := lastRequest()
			Expect(sent.Messages).To(HaveLen(len(turns)))
			for i := range turns {
				Expect(string(sent.Messages[i])).To(MatchJSON(string(turns[i])))
			}
		})

		DescribeTable("always uses model deepseek-chat at temperature 0.7",
			func(conversation ...string) {
				in := make([]json.RawMessage, len(conversation))
				for i, c := range conversation {
					in[i] = json.RawMessage(c)
				}

				_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", in)
				Expect(err).NotTo(HaveOccurred())

				sent := lastRequest()
				Expect(sent.Model).To(Equal("deepseek-chat"))
				Expect(sent.Temperature).To(BeNumerically("==", 0.7))
				Expect(sent.Stream).To(BeFalse())
			},
			Entry("single user turn", `{"role":"user","content":"2+2?"}`),
			Entry("turn asking for another model", `{"role":"user","content":"hi","model":"gpt-4o"}`),
			Entry("turn asking for another temperature", `{"role":"user","content":"hi","temperature":2}`),
			Entry("several turns",
				`{"role":"system","content":"be brief"}`,
				`{"role":"user","content":"hi"}`,
				`{"role":"assistant","content":"hello"}`,
				`{"role":"user","content":"bye"}`,
			),
		)

		Context("when the upstream rejects the request", func() {
			It("reports UpstreamRejected with the status and upstream message", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					io.WriteString(w, `{"error":{"message":"Authentication Fails","type":"authentication_error","code":"invalid_request_error"}}`)
				}

				_, err := newBackend(deepseek.Options{MaxRetries: 2}).Complete(ctx, "bad-key", turns)
				Expect(err).To(HaveOccurred())
				Expect(backend.IsRejected(err)).To(BeTrue())

				ue, ok := backend.AsUpstreamError(err)
				Expect(ok).To(BeTrue())
				Expect(ue.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(ue.Message).To(Equal("Authentication Fails"))
				Expect(calls.Load()).To(BeEquivalentTo(1), "4xx other than 429 is not retried")
			})

			It("falls back to the raw body when it is not an error document", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadRequest)
					io.WriteString(w, "bad messages")
				}

				_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
				ue, ok := backend.AsUpstreamError(err)
				Expect(ok).To(BeTrue())
				Expect(ue.Message).To(Equal("bad messages"))
			})

			It("rejects a response that is not JSON", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					io.WriteString(w, "<html>gateway</html>")
				}

				_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
				Expect(backend.IsRejected(err)).To(BeTrue())
			})

			It("rejects a response without choices", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","choices":[]}`)
				}

				_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
				Expect(backend.IsRejected(err)).To(BeTrue())
			})
		})

		Context("with retries configured", func() {
			It("retries 5xx responses up to MaxRetries times", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
					io.WriteString(w, `{"error":{"message":"Server overloaded"}}`)
				}

				_, err := newBackend(deepseek.Options{MaxRetries: 2}).Complete(ctx, "test-key", turns)
				Expect(backend.IsRejected(err)).To(BeTrue())
				ue, _ := backend.AsUpstreamError(err)
				Expect(ue.StatusCode).To(Equal(http.StatusServiceUnavailable))
				Expect(calls.Load()).To(BeEquivalentTo(3))
			})

			It("returns the reply once a retry succeeds", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					if calls.Load() == 1 {
						w.WriteHeader(http.StatusTooManyRequests)
						io.WriteString(w, `{"error":{"message":"Rate limit reached"}}`)
						return
					}
					io.WriteString(w, completion("after retry"))
				}

				reply, err := newBackend(deepseek.Options{MaxRetries: 3}).Complete(ctx, "test-key", turns)
				Expect(err).NotTo(HaveOccurred())
				Expect(reply).To(Equal("after retry"))
				Expect(calls.Load()).To(BeEquivalentTo(2))
			})

			It("does not retry by default", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadGateway)
				}

				_, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(BeEquivalentTo(1))
			})
		})

		Context("when the upstream cannot be reached", func() {
			It("reports UpstreamUnavailable", func() {
				gone := httptest.NewServer(http.NotFoundHandler())
				endpoint := gone.URL
				gone.Close()

				b := deepseek.NewDeepseekBackend(deepseek.Options{Endpoint: endpoint})
				_, err := b.Complete(ctx, "test-key", turns)
				Expect(backend.IsUnavailable(err)).To(BeTrue())

				ue, _ := backend.AsUpstreamError(err)
				Expect(ue.Timeout).To(BeFalse())
			})

			It("gives up once the timeout expires", func() {
				respond = func(w http.ResponseWriter, r *http.Request) {
					select {
					case <-r.Context().Done():
					case <-time.After(2 * time.Second):
					}
				}

				_, err := newBackend(deepseek.Options{Timeout: 50 * time.Millisecond}).Complete(ctx, "test-key", turns)
				Expect(backend.IsUnavailable(err)).To(BeTrue())

				ue, _ := backend.AsUpstreamError(err)
				Expect(ue.Timeout).To(BeTrue())
			})

			It("stops when the caller's context is cancelled", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()

				_, err := newBackend(deepseek.Options{MaxRetries: 5}).Complete(cancelled, "test-key", turns)
				Expect(backend.IsUnavailable(err)).To(BeTrue())
				Expect(calls.Load()).To(BeEquivalentTo(0))
			})
		})

		DescribeTable("decodes compressed response bodies",
			func(encoding string, compress func(io.Writer) io.WriteCloser) {
				respond = func(w http.ResponseWriter, r *http.Request) {
					var buf bytes.Buffer
					zw := compress(&buf)
					io.WriteString(zw, completion("compressed reply"))
					zw.Close()

					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Content-Encoding", encoding)
					w.Write(buf.Bytes())
				}

				reply, err := newBackend(deepseek.Options{}).Complete(ctx, "test-key", turns)
				Expect(err).NotTo(HaveOccurred())
				Expect(reply).To(Equal("compressed reply"))

				mu.Lock()
				defer mu.Unlock()
				Expect(lastHeader.Get("Accept-Encoding")).To(ContainSubstring(encoding))
			},
			Entry("gzip", "gzip", func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }),
			Entry("brotli", "br", func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) }),
			Entry("deflate", "deflate", func(w io.Writer) io.WriteCloser {
				fw, _ := flate.NewWriter(w, flate.DefaultCompression)
				return fw
			}),
		)
	})
})
