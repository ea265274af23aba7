package registry

import (
	"testing"

	"github.com/harunnryd/kata/pkg/codec"
)

func TestInferProviderByHost(t *testing.T) {
	cases := map[string]string{
		"https://api.deepgram.com/v1/listen":        "deepgram",
		"wss://api.elevenlabs.io/v1/text-to-speech": "elevenlabs",
		"http://localhost:8080/inference":           "whisper",
		"http://127.0.0.1:5000/tts":                 "piper",
	}
	for url, want := range cases {
		got, err := InferProvider(url)
		if err != nil {
			t.Fatalf("%s: %v", url, err)
		}
		if got != want {
			t.Fatalf("%s: provider = %s, want %s", url, got, want)
		}
	}
}

func TestInferProviderUnknownFails(t *testing.T) {
	if _, err := InferProvider("http://example.com/api"); err == nil {
		t.Fatalf("expected inference failure for unknown host")
	}
}

func TestExplicitProviderWins(t *testing.T) {
	r, err := New([]Spec{{
		Role:     RoleSTT,
		Provider: "whisper",
		BaseURL:  "http://speech.internal:9000/custom",
	}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	eps := r.Endpoints(RoleSTT)
	if len(eps) != 1 || eps[0].Provider != "whisper" {
		t.Fatalf("explicit provider not honored: %+v", eps)
	}
}

func TestOrderPreserved(t *testing.T) {
	r, err := New([]Spec{
		{Role: RoleSTT, BaseURL: "http://localhost:8080/inference"},
		{Role: RoleSTT, BaseURL: "https://api.deepgram.com/v1/listen", APIKey: "k"},
		{Role: RoleTTS, BaseURL: "http://localhost:5000/tts"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stt := r.Endpoints(RoleSTT)
	if len(stt) != 2 || stt[0].Provider != "whisper" || stt[1].Provider != "deepgram" {
		t.Fatalf("stt order wrong: %+v", stt)
	}
	if tts := r.Endpoints(RoleTTS); len(tts) != 1 || tts[0].Provider != "piper" {
		t.Fatalf("tts wrong: %+v", tts)
	}
}

func TestDefaultFormatsAndSupports(t *testing.T) {
	r, err := New([]Spec{{Role: RoleTTS, BaseURL: "wss://api.elevenlabs.io/v1", APIKey: "k"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ep := r.Endpoints(RoleTTS)[0]
	if !ep.Supports(codec.FormatPCM16) {
		t.Fatalf("elevenlabs default should include pcm")
	}
	if ep.Supports(codec.FormatULaw8000) {
		t.Fatalf("ulaw should not be a default")
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	_, err := New([]Spec{{Role: RoleSTT, BaseURL: "http://x/inference", Formats: []string{"ogg"}}})
	if err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestRefreshSwapsLists(t *testing.T) {
	r, err := New([]Spec{{Role: RoleSTT, BaseURL: "http://a/inference"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := r.Refresh([]Spec{
		{Role: RoleSTT, BaseURL: "http://b/inference"},
		{Role: RoleSTT, BaseURL: "http://c/inference"},
	}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if eps := r.Endpoints(RoleSTT); len(eps) != 2 || eps[0].BaseURL != "http://b/inference" {
		t.Fatalf("refresh not applied: %+v", eps)
	}
}
