package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribeSendsMultipartForm(t *testing.T) {
	var gotLanguage, gotModel string
	var gotFileSize int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/speech-to-text" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("use_non_standard_model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		buf := make([]byte, 16)
		n, _ := f.Read(buf)
		gotFileSize = n
		_ = json.NewEncoder(w).Encode(TranscriptionResult{Success: true, Text: "hello", Confidence: 0.93})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res, err := c.Transcribe(context.Background(), TranscribeRequest{
		Audio:               []byte("abcd"),
		Language:            "en",
		UseNonStandardModel: true,
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "hello" || res.Confidence != 0.93 {
		t.Errorf("result = %+v", res)
	}
	if gotLanguage != "en" || gotModel != "true" || gotFileSize != 4 {
		t.Errorf("form fields = lang %q model %q size %d", gotLanguage, gotModel, gotFileSize)
	}
}

func TestTranscribeRejectsBadAudioBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})

	var vErr *ValidationError
	_, err := c.Transcribe(context.Background(), TranscribeRequest{Audio: nil})
	if !errors.As(err, &vErr) {
		t.Fatalf("empty audio: error = %v, want ValidationError", err)
	}

	oversized := make([]byte, MaxUploadBytes+1)
	_, err = c.Transcribe(context.Background(), TranscribeRequest{Audio: oversized})
	if !errors.As(err, &vErr) {
		t.Fatalf("oversized audio: error = %v, want ValidationError", err)
	}
	if called {
		t.Fatalf("server should never be reached for invalid input")
	}
}

func TestSynthesizeReturnsRawAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SynthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "hi there" || req.VoiceID != "v1" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xFF, 0xFB, 0x90})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	audio, err := c.Synthesize(context.Background(), SynthesisRequest{Text: "hi there", VoiceID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(audio) != 3 || audio[0] != 0xFF {
		t.Errorf("audio = %v", audio)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	var vErr *ValidationError
	if _, err := c.Synthesize(context.Background(), SynthesisRequest{Text: "   "}); !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestNonSuccessStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Voices(context.Background())
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if tErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", tErr.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	srv.Close()
	var tErr *TransportError
	if err := c.Health(context.Background()); !errors.As(err, &tErr) {
		t.Fatalf("unreachable backend: error = %v, want TransportError", err)
	}
}

func TestObserverSeesEveryRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/voices":
			_ = json.NewEncoder(w).Encode(VoicesResponse{})
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	observed := map[string]string{}
	c := NewClient(Config{BaseURL: srv.URL, Observe: func(op, result string) {
		observed[op] = result
	}})

	if _, err := c.Voices(context.Background()); err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if _, err := c.Transcribe(context.Background(), TranscribeRequest{Audio: []byte("x")}); err == nil {
		t.Fatalf("Transcribe() should fail against the 502 handler")
	}
	// Validation failures never reach the network and are not observed.
	if _, err := c.Synthesize(context.Background(), SynthesisRequest{Text: ""}); err == nil {
		t.Fatalf("Synthesize() should reject empty text")
	}

	want := map[string]string{"voices": "ok", "transcribe": "error"}
	if len(observed) != len(want) {
		t.Fatalf("observed = %v, want %v", observed, want)
	}
	for op, result := range want {
		if observed[op] != result {
			t.Errorf("observed[%s] = %q, want %q", op, observed[op], result)
		}
	}
}

func TestUploadSampleEncodesCharacteristics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		var chars map[string]any
		if err := json.Unmarshal([]byte(r.FormValue("speech_characteristics")), &chars); err != nil {
			t.Fatalf("speech_characteristics is not JSON: %v", err)
		}
		if chars["pace"] != "slow" {
			t.Errorf("speech characteristics = %v", chars)
		}
		if r.FormValue("category") != "general" {
			t.Errorf("category = %q, want default", r.FormValue("category"))
		}
		_ = json.NewEncoder(w).Encode(UploadSampleResponse{Success: true, SampleID: "s1", Confidence: 0.8})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res, err := c.UploadSample(context.Background(), UploadSampleRequest{
		Audio:                 []byte("audio"),
		Phrase:                "the quick brown fox",
		SpeechCharacteristics: map[string]any{"pace": "slow"},
	})
	if err != nil {
		t.Fatalf("UploadSample() error = %v", err)
	}
	if res.SampleID != "s1" {
		t.Errorf("sample id = %q", res.SampleID)
	}
}
