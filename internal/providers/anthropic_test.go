package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicChatToolUseRoundTrip(t *testing.T) {
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-test" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Error("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "let me check"},
				{"type": "tool_use", "id": "toolu_1", "name": "ec2_count",
					"input": map[string]interface{}{"regions": []string{"us-east-1"}}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "you are a bot"},
			{Role: "user", Content: "count instances"},
		},
		Tools: []ToolDefinition{{
			Type: "function",
			Function: ToolFunctionSchema{
				Name:       "ec2_count",
				Parameters: map[string]interface{}{"type": "object"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	// System messages are promoted to the top-level field.
	if gotBody["system"] != "you are a bot" {
		t.Errorf("system = %v", gotBody["system"])
	}
	msgs := gotBody["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("wire messages = %d, want 1 (system hoisted out)", len(msgs))
	}

	if resp.Content != "let me check" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "ec2_count" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAnthropicToolResultSentAsUserBlock(t *testing.T) {
	var gotBody struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content":     []map[string]interface{}{{"type": "text", "text": "4 instances"}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", WithAnthropicBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "count"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "ec2_count"}}},
			{Role: "tool", ToolCallID: "toolu_1", Content: `[{"region":"us-east-1"}]`},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(gotBody.Messages) != 3 {
		t.Fatalf("wire messages = %d, want 3", len(gotBody.Messages))
	}
	last := gotBody.Messages[2]
	if last.Role != "user" {
		t.Errorf("tool result role = %q, want user", last.Role)
	}
	var blocks []map[string]interface{}
	if err := json.Unmarshal(last.Content, &blocks); err != nil {
		t.Fatalf("tool result content is not a block list: %v", err)
	}
	if blocks[0]["type"] != "tool_result" || blocks[0]["tool_use_id"] != "toolu_1" {
		t.Errorf("tool result block = %+v", blocks[0])
	}
}
