package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want string
	}{
		{"plain", "Very good, Sir.", "Very good, Sir."},
		{"emphasis", "**Good** morning, *Sir*.", "Good morning, Sir."},
		{"heading", "# Today\nNothing scheduled.", "Today Nothing scheduled."},
		{"list", "- Dentist at 3 PM\n- Lunch with Liz", "Dentist at 3 PM Lunch with Liz"},
		{"link", "See [the calendar](https://example.com).", "See the calendar."},
		{"code", "```\nremind me\n```", "remind me"},
		{"empty", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(strings.Fields(PlainText(tt.md)), " ")
			if got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.md, got, tt.want)
			}
		})
	}
}

func TestPlainText_BlocksOnSeparateLines(t *testing.T) {
	got := PlainText("First paragraph.\n\nSecond paragraph.")
	if got != "First paragraph.\nSecond paragraph." {
		t.Errorf("PlainText() = %q", got)
	}
}

type audioServer struct {
	speechReq map[string]any
	fileName  string
	model     string
}

func newAudioServer(t *testing.T, a *audioServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/v1/audio/transcriptions":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			a.model = r.FormValue("model")
			if f, hdr, err := r.FormFile("file"); err == nil {
				a.fileName = hdr.Filename
				f.Close()
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"text":"  lunch with Liz tomorrow  "}`)
		case "/v1/audio/speech":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &a.speechReq)
			w.Header().Set("Content-Type", "audio/ogg")
			_, _ = w.Write([]byte("OggS-fake-audio"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe(t *testing.T) {
	a := &audioServer{}
	srv := newAudioServer(t, a)
	s := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	got, err := s.Transcribe(context.Background(), []byte("OggS"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "lunch with Liz tomorrow" {
		t.Errorf("Transcribe() = %q", got)
	}
	if a.model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", a.model)
	}
	if a.fileName != "voice.oga" {
		t.Errorf("file name = %q, want voice.oga", a.fileName)
	}
}

func TestSynthesize(t *testing.T) {
	a := &audioServer{}
	srv := newAudioServer(t, a)
	s := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	audio, err := s.Synthesize(context.Background(), "**Very good**, Sir.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "OggS-fake-audio" {
		t.Errorf("audio = %q", audio)
	}
	if a.speechReq["input"] != "Very good, Sir." {
		t.Errorf("input = %v, want markdown stripped", a.speechReq["input"])
	}
	if a.speechReq["voice"] != DefaultVoice || a.speechReq["response_format"] != "opus" || a.speechReq["model"] != "tts-1" {
		t.Errorf("speech request = %v", a.speechReq)
	}
}

func TestSynthesize_Empty(t *testing.T) {
	s := New(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0/v1"}, nil)
	if _, err := s.Synthesize(context.Background(), "   "); !errors.Is(err, ErrNothingToSay) {
		t.Errorf("err = %v, want ErrNothingToSay", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	s := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	if _, err := s.Transcribe(context.Background(), []byte("OggS")); err == nil {
		t.Fatal("expected error")
	}
}

var _ Service = (*OpenAI)(nil)
