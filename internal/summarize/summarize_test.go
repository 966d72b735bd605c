package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"**bold** and *italic* with `code`", "bold and italic with code"},
		{"See https://example.com/docs now", "See website example.com/docs now"},
		{"Wait..... really?? yes!!!", "Wait... really? yes!"},
		{"# Title\n\nBody   text", "Title Body text"},
		{"before ```go\nx := 1\n``` after", "before [code block] after"},
	}
	for _, tc := range cases {
		if got := Clean(tc.in); got != tc.want {
			t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSimple(t *testing.T) {
	text := "This is the first sentence here. Short. This is the middle sentence. This is the final sentence here."
	want := "This is the first sentence here. ... This is the final sentence here"
	if got := Simple(text, 150); got != want {
		t.Errorf("Simple = %q, want %q", got, want)
	}

	two := "The opening sentence is here. The closing sentence is here."
	if got := Simple(two, 150); got != "The opening sentence is here. The closing sentence is here" {
		t.Errorf("Simple(two) = %q", got)
	}

	if got := Simple("A single long sentence without end", 10); got != "A single l..." {
		t.Errorf("capped = %q", got)
	}

	if got := Simple("a. b. c", 3); got != "a. ..." {
		t.Errorf("no sentences = %q", got)
	}
}

func TestShouldSummarize(t *testing.T) {
	s := New(Config{Enabled: true, MaxLength: 20, MinTextLength: 5}, nil)
	if s.ShouldSummarize(strings.Repeat("x", 30)) {
		t.Error("30 runes should not need summarizing at max 20")
	}
	if !s.ShouldSummarize(strings.Repeat("x", 50)) {
		t.Error("50 runes should be summarized at max 20")
	}

	off := New(Config{Enabled: false, MaxLength: 20}, nil)
	if off.ShouldSummarize(strings.Repeat("x", 500)) {
		t.Error("disabled summarizer summarized")
	}

	highMin := New(Config{Enabled: true, MaxLength: 20, MinTextLength: 100}, nil)
	if highMin.ShouldSummarize(strings.Repeat("x", 50)) {
		t.Error("text under twice the minimum was summarized")
	}
}

type fakeProvider struct {
	out string
	err error
	got string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Summarize(_ context.Context, text string, _ int) (string, error) {
	f.got = text
	return f.out, f.err
}

const longText = "The first thing to know is that this works well. " +
	"There are a number of details in between. " +
	"The last thing to know is that it is finished."

func TestSummarizeUsesProvider(t *testing.T) {
	p := &fakeProvider{out: "  It works and it is done.  "}
	s := New(Config{Enabled: true, MaxLength: 40, MinTextLength: 5}, p)

	if got := s.Summarize(context.Background(), longText); got != "It works and it is done." {
		t.Fatalf("Summarize = %q", got)
	}
	if p.got != longText {
		t.Fatalf("provider got %q", p.got)
	}
	if s.Provider() != "fake" {
		t.Fatalf("provider name = %q", s.Provider())
	}
}

func TestSummarizeFallsBack(t *testing.T) {
	p := &fakeProvider{err: errors.New("quota exceeded")}
	s := New(Config{Enabled: true, MaxLength: 40, MinTextLength: 5}, p)

	got := s.Summarize(context.Background(), longText)
	if want := Simple(Clean(longText), 40); got != want {
		t.Fatalf("Summarize = %q, want simple summary %q", got, want)
	}
}

func TestSummarizeShortTextUnchanged(t *testing.T) {
	p := &fakeProvider{out: "never used"}
	s := New(DefaultConfig(), p)
	if got := s.Summarize(context.Background(), "  a **short** note  "); got != "a short note" {
		t.Fatalf("Summarize = %q", got)
	}
	if p.got != "" {
		t.Fatal("provider called for short text")
	}
}

func TestForVoice(t *testing.T) {
	s := New(Config{Enabled: false}, nil)
	cases := []struct {
		in, want string
	}{
		{"Dr Smith met Mr Jones vs the team, e.g. today", "doctor Smith met mister Jones versus the team, for example today."},
		{"It works. Next step", "It works... Next step."},
		{"Done!", "Done!"},
		{"tea w/ milk, coffee w/o", "tea with milk, coffee without."},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := s.ForVoice(context.Background(), tc.in); got != tc.want {
			t.Errorf("ForVoice(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCompare(t *testing.T) {
	st := Compare("0123456789", "01234")
	if st.OriginalLength != 10 || st.SummaryLength != 5 || st.Ratio != 0.5 {
		t.Fatalf("stats = %+v", st)
	}
	if Compare("", "").Ratio != 0 {
		t.Fatal("empty original should have zero ratio")
	}
}

func TestOpenAI(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" a short summary "}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI("", srv.URL+"/v1/", "test-model", "sk-test")
	got, err := p.Summarize(context.Background(), "some long text", 150)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a short summary" {
		t.Fatalf("got %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Messages) != 2 || !strings.Contains(gotReq.Messages[1].Content, "some long text") {
		t.Fatalf("request = %+v", gotReq)
	}
	if p.Name() != "openai" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestOpenAIErrors(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI("ollama", srv.URL, "llama2", "")
	_, err := p.Summarize(context.Background(), "text", 100)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want rate limited", err)
	}
	if sawAuth {
		t.Fatal("authorization sent without an api key")
	}
}
