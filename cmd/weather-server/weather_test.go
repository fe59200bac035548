package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func callWeather(t *testing.T, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = "get_weather"
	req.Params.Arguments = args
	res, err := handleGetWeather(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Content))
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestGetWeather_KnownCity(t *testing.T) {
	res := callWeather(t, map[string]any{"city": "Beijing"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	var r report
	if err := json.Unmarshal([]byte(resultText(t, res)), &r); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if r.City != "Beijing" || r.Condition == "" {
		t.Fatalf("unexpected report %#v", r)
	}
}

func TestGetWeather_Deterministic(t *testing.T) {
	a := resultText(t, callWeather(t, map[string]any{"city": "Shanghai"}))
	b := resultText(t, callWeather(t, map[string]any{"city": "shanghai"}))
	c := resultText(t, callWeather(t, map[string]any{"city": "上海"}))
	if a != b || a != c {
		t.Fatalf("expected identical reports: %s / %s / %s", a, b, c)
	}
}

func TestGetWeather_UnknownCity(t *testing.T) {
	res := callWeather(t, map[string]any{"city": "Atlantis"})
	if !res.IsError {
		t.Fatal("expected error result for unknown city")
	}
}

func TestGetWeather_MissingCity(t *testing.T) {
	res := callWeather(t, map[string]any{})
	if !res.IsError {
		t.Fatal("expected error result for missing city")
	}
}

func TestNewServer_RegistersTool(t *testing.T) {
	if newServer() == nil {
		t.Fatal("nil server")
	}
}
