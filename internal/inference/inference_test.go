package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/logging"
)

const (
	testWallet   = "0x00000000000000000000000000000000000000a1"
	testProvider = "0x00000000000000000000000000000000000000f1"
)

func newClient(t *testing.T, mem *broker.Memory, endpoint string) *Client {
	t.Helper()
	mem.RegisterService(broker.ServiceListing{Provider: testProvider},
		broker.ServiceMetadata{Model: "llama-3", Endpoint: endpoint})
	b, err := mem.Connect(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return NewClient(b.Inference, Options{Logger: logging.Discard()})
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n", l)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, s *Stream) []string {
	t.Helper()
	var deltas []string
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return deltas
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		deltas = append(deltas, c.Delta)
	}
}

func TestSendAccumulatesDeltasAndFixesID(t *testing.T) {
	srv := sseServer(t,
		`data:{"id":"x1","choices":[{"delta":{"content":"Hi"}}]}`,
		`data:{"choices":[{"delta":{"content":" there"}}]}`,
		`data:[DONE]`,
	)
	c := newClient(t, broker.NewMemory(), srv.URL)

	s, err := c.Send(context.Background(), testProvider, []Message{{Role: RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer s.Close()

	deltas := drain(t, s)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas got %v", deltas)
	}
	if s.Text() != "Hi there" {
		t.Fatalf("expected %q got %q", "Hi there", s.Text())
	}
	if s.ID() != "x1" {
		t.Fatalf("expected token x1 got %q", s.ID())
	}
}

func TestMalformedRecordIsSkipped(t *testing.T) {
	srv := sseServer(t,
		`data: {"id":"first","choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":`,
		`: keep-alive comment`,
		``,
		`data: {"id":"second","choices":[{"delta":{"content":"b"}}]}`,
		`data: {"choices":[]}`,
		`data: {"choices":[{"delta":{"content":"c"}}]}`,
	)
	c := newClient(t, broker.NewMemory(), srv.URL)

	s, err := c.Send(context.Background(), testProvider, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer s.Close()

	drain(t, s)
	if s.Text() != "abc" {
		t.Fatalf("expected abc got %q", s.Text())
	}
	if s.ID() != "first" {
		t.Fatalf("later ids must be ignored, got %q", s.ID())
	}
	if s.Skipped() != 1 {
		t.Fatalf("expected 1 skipped record got %d", s.Skipped())
	}
}

func TestRequestShapeAndSignedHeaders(t *testing.T) {
	var (
		gotPath string
		gotBody completionRequest
		gotHash string
		gotCT   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHash = r.Header.Get("Request-Hash")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := newClient(t, broker.NewMemory(), srv.URL+"/v1/proxy/")
	msgs := []Message{{Role: RoleUser, Content: "ping"}}
	s, err := c.Send(context.Background(), testProvider, msgs)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	drain(t, s)
	s.Close()

	if gotPath != "/v1/proxy/chat/completions" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if !gotBody.Stream || gotBody.Model != "llama-3" || len(gotBody.Messages) != 1 || gotBody.Messages[0].Content != "ping" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
	if gotCT != "application/json" || !strings.HasPrefix(gotHash, "0x") {
		t.Fatalf("missing headers: content-type=%q hash=%q", gotCT, gotHash)
	}
}

func TestNon2xxIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := newClient(t, broker.NewMemory(), srv.URL)

	_, err := c.Send(context.Background(), testProvider, nil)
	var typed *errs.Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected typed error, got %v", err)
	}
	if typed.Kind != errs.KindTransportFailure || typed.Status != http.StatusServiceUnavailable || typed.Body != "upstream overloaded" {
		t.Fatalf("unexpected error %+v", typed)
	}
}

func TestInsufficientServiceBalanceResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient balance in sub-account"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()
	c := newClient(t, broker.NewMemory(), srv.URL)

	_, err := c.Send(context.Background(), testProvider, nil)
	if !errors.Is(err, errs.ErrInsufficientServiceBalance) {
		t.Fatalf("expected insufficient service balance, got %v", err)
	}
}

func TestResolveRequiresEndpointAndModel(t *testing.T) {
	mem := broker.NewMemory()
	mem.RegisterService(broker.ServiceListing{Provider: "0xnomodel"}, broker.ServiceMetadata{Endpoint: "https://x"})
	mem.RegisterService(broker.ServiceListing{Provider: "0xnourl"}, broker.ServiceMetadata{Model: "m"})
	b, _ := mem.Connect(context.Background(), testWallet)
	c := NewClient(b.Inference, Options{Logger: logging.Discard()})

	for _, p := range []string{"0xnomodel", "0xnourl"} {
		if _, err := c.Resolve(context.Background(), p); !errors.Is(err, errs.ErrServiceUnavailable) {
			t.Fatalf("%s: expected service unavailable, got %v", p, err)
		}
	}
}

func TestPartialDeliveryIsObservable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"id\":\"p\",\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n")
		flusher.Flush()
		<-release
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" second\"}}]}\ndata: [DONE]\n")
	}))
	defer srv.Close()
	c := newClient(t, broker.NewMemory(), srv.URL)

	s, err := c.Send(context.Background(), testProvider, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer s.Close()

	chunk, err := s.Next()
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if chunk.Delta != "first" || s.Text() != "first" {
		t.Fatalf("first chunk should arrive before the stream completes, got %+v", chunk)
	}
	close(release)

	drain(t, s)
	if s.Text() != "first second" {
		t.Fatalf("unexpected text %q", s.Text())
	}
}

func TestCloseMidStreamReleasesTransport(t *testing.T) {
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")
		flusher.Flush()
		select {
		case <-r.Context().Done():
			close(closed)
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	c := newClient(t, broker.NewMemory(), srv.URL)

	s, err := c.Send(context.Background(), testProvider, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("closed stream should report EOF, got %v", err)
	}

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not observe the client going away")
	}
}

func TestVerifyVerdicts(t *testing.T) {
	mem := broker.NewMemory()
	c := newClient(t, mem, "https://unused")
	ctx := context.Background()

	mem.RecordResponse("chat-1", "Hi there")
	if v := c.Verify(ctx, testProvider, "Hi there", "chat-1"); v != Verified {
		t.Fatalf("expected verified, got %s", v)
	}
	if v := c.Verify(ctx, testProvider, "tampered", "chat-1"); v != Failed {
		t.Fatalf("expected failed, got %s", v)
	}
	if v := c.Verify(ctx, testProvider, "Hi there", "unknown"); v != Unverified {
		t.Fatalf("expected unverified on remote error, got %s", v)
	}
	if v := c.Verify(ctx, testProvider, "Hi there", ""); v != Unverified || v.Determinate() {
		t.Fatalf("expected unverified without a token, got %s", v)
	}
}
