package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DashScopeEndpoint = "wss://dashscope.aliyuncs.com/api-ws/v1/inference/"
	DashScopeModel    = "cosyvoice-v1"
	DashScopeVoice    = "longxiaochun"
)

type dashScopeEvent string

const (
	dashScopeStarted   dashScopeEvent = "task-started"
	dashScopeFinished  dashScopeEvent = "task-finished"
	dashScopeFailed    dashScopeEvent = "task-failed"
	dashScopeGenerated dashScopeEvent = "result-generated"
)

type DashScopeConfig struct {
	ApiKey string
	// Endpoint overrides DashScopeEndpoint.
	Endpoint  string
	Workspace string
}

// DashScopeClient synthesizes speech over the DashScope duplex websocket protocol.
// Every call opens its own connection and runs a single task on it.
type DashScopeClient struct {
	url       string
	apiKey    string
	workspace string
	dialer    *websocket.Dialer
}

var _ Synthesizer = (*DashScopeClient)(nil)

func NewDashScopeClient(config DashScopeConfig) (*DashScopeClient, error) {
	if config.ApiKey == "" {
		return nil, errors.New("dashscope api key is required")
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DashScopeEndpoint
	}
	return &DashScopeClient{
		url:       endpoint,
		apiKey:    config.ApiKey,
		workspace: config.Workspace,
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}, nil
}

type dashScopeHeader struct {
	Action       string `json:"action,omitempty"`
	TaskID       string `json:"task_id"`
	Streaming    string `json:"streaming,omitempty"`
	Event        string `json:"event,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type dashScopeMessage struct {
	Header  dashScopeHeader `json:"header"`
	Payload map[string]any  `json:"payload,omitempty"`
}

func (c *DashScopeClient) SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)

	hdr := http.Header{}
	hdr.Set("Authorization", "bearer "+c.apiKey)
	hdr.Set("X-DashScope-DataInspection", "enable")
	if c.workspace != "" {
		hdr.Set("X-DashScope-WorkSpace", c.workspace)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, hdr)
	if err != nil {
		return fmt.Errorf("failed to connect to dashscope: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	taskID := uuid.NewString()
	if err := conn.WriteJSON(c.runTask(taskID, options)); err != nil {
		return fmt.Errorf("failed to send run-task: %w", err)
	}

	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read dashscope message: %w", err)
		}

		switch mt {
		case websocket.BinaryMessage:
			if len(payload) == 0 {
				continue
			}
			select {
			case audioData <- payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		case websocket.TextMessage:
			var msg dashScopeMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				return fmt.Errorf("failed to decode dashscope message: %w", err)
			}
			switch dashScopeEvent(strings.ToLower(msg.Header.Event)) {
			case dashScopeStarted:
				if err := conn.WriteJSON(continueTask(taskID, text)); err != nil {
					return fmt.Errorf("failed to send continue-task: %w", err)
				}
				if err := conn.WriteJSON(finishTask(taskID)); err != nil {
					return fmt.Errorf("failed to send finish-task: %w", err)
				}
			case dashScopeFinished:
				return nil
			case dashScopeFailed:
				return fmt.Errorf("dashscope task failed: %s: %s", msg.Header.ErrorCode, msg.Header.ErrorMessage)
			case dashScopeGenerated:
			}
		}
	}
}

func (c *DashScopeClient) runTask(taskID string, options SynthesisOptions) dashScopeMessage {
	model := options.Model
	if model == "" {
		model = DashScopeModel
	}
	voice := options.Voice
	if voice == "" {
		voice = DashScopeVoice
	}
	rate := options.Speed
	if rate <= 0 {
		rate = 1
	}
	volume := 50
	if options.Volume > 0 {
		volume = int(options.Volume)
	}
	return dashScopeMessage{
		Header: dashScopeHeader{Action: "run-task", TaskID: taskID, Streaming: "duplex"},
		Payload: map[string]any{
			"task_group": "audio",
			"task":       "tts",
			"function":   "SpeechSynthesizer",
			"model":      model,
			"parameters": map[string]any{
				"text_type":   "PlainText",
				"voice":       voice,
				"format":      options.Format.String(),
				"sample_rate": options.sampleRate(),
				"volume":      volume,
				"rate":        rate,
			},
			"input": map[string]any{},
		},
	}
}

func continueTask(taskID, text string) dashScopeMessage {
	return dashScopeMessage{
		Header: dashScopeHeader{Action: "continue-task", TaskID: taskID, Streaming: "duplex"},
		Payload: map[string]any{
			"input": map[string]any{"text": text},
		},
	}
}

func finishTask(taskID string) dashScopeMessage {
	return dashScopeMessage{
		Header: dashScopeHeader{Action: "finish-task", TaskID: taskID, Streaming: "duplex"},
		Payload: map[string]any{
			"input": map[string]any{},
		},
	}
}

// Close is a no-op; connections live for a single call.
func (c *DashScopeClient) Close() error {
	return nil
}
