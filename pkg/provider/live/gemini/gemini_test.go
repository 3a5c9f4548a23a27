package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
	"github.com/MrWong99/mindbridge/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

func connect(t *testing.T, srv *httptest.Server, cfg live.SessionConfig) live.SessionHandle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sess, err := newProvider(srv).Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// nextEvent waits for the next event or fails the test.
func nextEvent(t *testing.T, sess live.SessionHandle) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

// ── Tests ──────────────────────────────────────────────────────────────────────

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("k").Capabilities()
	if caps.InputFormat.SampleRate != 16000 {
		t.Errorf("InputFormat.SampleRate = %d; want 16000", caps.InputFormat.SampleRate)
	}
	if caps.OutputFormat.SampleRate != 24000 {
		t.Errorf("OutputFormat.SampleRate = %d; want 24000", caps.OutputFormat.SampleRate)
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices is empty")
	}
}

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name string `json:"name"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription  *json.RawMessage `json:"inputAudioTranscription"`
			OutputAudioTranscription *json.RawMessage `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	got := make(chan setupMsg, 1)
	keyCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		got <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, live.SessionConfig{
		Voice:        "Kore",
		Instructions: "be kind",
		Transcribe:   true,
		Tools:        []live.ToolDefinition{{Name: "getPsychologistAvailability"}},
	})

	msg := <-got
	if msg.Setup.Model != "models/gemini-2.5-flash-native-audio-preview-12-2025" {
		t.Errorf("model = %q; want default native audio model", msg.Setup.Model)
	}
	if len(msg.Setup.GenerationConfig.ResponseModalities) != 1 || msg.Setup.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("responseModalities = %v; want [AUDIO]", msg.Setup.GenerationConfig.ResponseModalities)
	}
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Kore" {
		t.Errorf("voiceName = %q; want Kore", v)
	}
	if len(msg.Setup.SystemInstruction.Parts) != 1 || msg.Setup.SystemInstruction.Parts[0].Text != "be kind" {
		t.Errorf("systemInstruction = %+v; want be kind", msg.Setup.SystemInstruction)
	}
	if len(msg.Setup.Tools) != 1 || len(msg.Setup.Tools[0].FunctionDeclarations) != 1 ||
		msg.Setup.Tools[0].FunctionDeclarations[0].Name != "getPsychologistAvailability" {
		t.Errorf("tools = %+v; want one declaration", msg.Setup.Tools)
	}
	if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
		t.Error("transcription configs missing")
	}
	if k := <-keyCh; k != "test-api-key" {
		t.Errorf("key = %q; want test-api-key", k)
	}
}

func TestConnect_SetupErrorFailsConnect(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 403, "message": "permission denied"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := newProvider(srv).Connect(ctx, live.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("Connect error = %v; want permission denied", err)
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newProvider(srv).Connect(ctx, live.SessionConfig{}); err == nil {
		t.Error("Connect with cancelled context returned nil error")
	}
}

func TestSendAudio_RealtimeInput(t *testing.T) {
	t.Parallel()

	type mediaMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	got := make(chan mediaMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg mediaMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})

	pcm := audio.EncodePCM16([]float32{0.5, -0.5})
	if err := sess.SendAudio(audio.Chunk{Data: pcm, SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-got:
		if len(msg.RealtimeInput.MediaChunks) != 1 {
			t.Fatalf("mediaChunks = %d; want 1", len(msg.RealtimeInput.MediaChunks))
		}
		mc := msg.RealtimeInput.MediaChunks[0]
		if mc.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", mc.MIMEType)
		}
		if mc.Data != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("data = %q; want base64 of the chunk", mc.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for realtimeInput")
	}
}

func TestSendAudio_AfterClose_ReturnsErrClosed(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})
	sess.Close()
	if err := sess.SendAudio(audio.Chunk{Data: []byte{0, 0}, SampleRate: 16000, Channels: 1}); err != live.ErrClosed {
		t.Errorf("SendAudio after Close = %v; want ErrClosed", err)
	}
}

func TestEvents_ServerContentOrder(t *testing.T) {
	t.Parallel()
	pcm := audio.EncodePCM16([]float32{0.25, 0.25, 0.25})

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{map[string]any{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					}},
				},
				"inputTranscription":  map[string]any{"text": "I feel "},
				"outputTranscription": map[string]any{"text": "Tell me "},
				"turnComplete":        true,
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})

	ev := nextEvent(t, sess)
	if ev.Kind != live.EventAudio {
		t.Fatalf("event 0 = %v; want audio", ev.Kind)
	}
	if ev.Audio.SampleRate != 24000 || ev.Audio.Channels != 1 {
		t.Errorf("audio format = %d/%d; want 24000/1", ev.Audio.SampleRate, ev.Audio.Channels)
	}
	if string(ev.Audio.Data) != string(pcm) {
		t.Error("audio payload differs from sent PCM")
	}

	want := []struct {
		kind live.EventKind
		text string
	}{
		{live.EventInputTranscript, "I feel "},
		{live.EventOutputTranscript, "Tell me "},
		{live.EventTurnComplete, ""},
		{live.EventInterrupted, ""},
	}
	for i, w := range want {
		ev := nextEvent(t, sess)
		if ev.Kind != w.kind || ev.Text != w.text {
			t.Errorf("event %d = %v %q; want %v %q", i+1, ev.Kind, ev.Text, w.kind, w.text)
		}
	}
}

func TestToolCalls_RoundTrip(t *testing.T) {
	t.Parallel()

	type respMsg struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}
	got := make(chan respMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []any{
					map[string]any{"id": "c1", "name": "showSpecialistProfile", "args": map[string]any{"specialistName": "Dr. Ayesha Khan"}},
					map[string]any{"id": "c2", "name": "getPsychologistAvailability"},
				},
			},
		})
		var msg respMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})

	ev := nextEvent(t, sess)
	if ev.Kind != live.EventToolCalls || len(ev.ToolCalls) != 2 {
		t.Fatalf("event = %v with %d calls; want tool calls x2", ev.Kind, len(ev.ToolCalls))
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(ev.ToolCalls[0].Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["specialistName"] != "Dr. Ayesha Khan" {
		t.Errorf("specialistName = %q; want Dr. Ayesha Khan", args["specialistName"])
	}
	if ev.ToolCalls[1].Arguments != "{}" {
		t.Errorf("empty args = %q; want {}", ev.ToolCalls[1].Arguments)
	}

	err := sess.SendToolResults([]live.ToolResult{
		{ID: "c1", Name: "showSpecialistProfile", Output: map[string]any{"result": "ok"}},
		{ID: "c2", Name: "getPsychologistAvailability", Output: map[string]any{"result": "slots"}},
	})
	if err != nil {
		t.Fatalf("SendToolResults: %v", err)
	}

	select {
	case msg := <-got:
		fr := msg.ToolResponse.FunctionResponses
		if len(fr) != 2 {
			t.Fatalf("functionResponses = %d; want 2", len(fr))
		}
		if fr[0].ID != "c1" || fr[0].Response["result"] != "ok" {
			t.Errorf("response[0] = %+v; want c1/ok", fr[0])
		}
		if fr[1].ID != "c2" || fr[1].Name != "getPsychologistAvailability" {
			t.Errorf("response[1] = %+v; want c2", fr[1])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for toolResponse")
	}
}

func TestToolCancellation(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"toolCallCancellation": map[string]any{"ids": []string{"c9"}}})
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})
	ev := nextEvent(t, sess)
	if ev.Kind != live.EventToolCancellation || len(ev.CallIDs) != 1 || ev.CallIDs[0] != "c9" {
		t.Errorf("event = %+v; want cancellation of c9", ev)
	}
}

func TestServerError_EndsSession(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 500, "message": "quota exceeded"}})
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})

	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Fatal("received event; want closed channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel to close")
	}
	if err := sess.Err(); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Err() = %v; want quota exceeded", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess := connect(t, srv, live.SessionConfig{})
	if err := sess.Close(); err != nil {
		t.Errorf("first Close = %v; want nil", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close = %v; want nil", err)
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() after Close = %v; want nil", err)
	}
}
