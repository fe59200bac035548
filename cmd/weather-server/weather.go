package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mcpchat/internal/normalize"
)

var conditions = []string{"sunny", "cloudy", "overcast", "light rain", "showers", "windy", "hazy"}

// report is the demo observation returned by get_weather.
type report struct {
	City        string `json:"city"`
	Condition   string `json:"condition"`
	TempC       int    `json:"temp_c"`
	HumidityPct int    `json:"humidity_pct"`
	WindKph     int    `json:"wind_kph"`
}

// knownCities maps lowercased canonical names to their canonical spelling.
var knownCities = func() map[string]string {
	out := make(map[string]string)
	for _, canonical := range normalize.KnownCities() {
		out[strings.ToLower(canonical)] = canonical
	}
	return out
}()

// lookup derives a stable report from the city name so repeated calls agree.
func lookup(city string) (report, bool) {
	canonical, ok := knownCities[strings.ToLower(normalize.City(strings.TrimSpace(city)))]
	if !ok {
		return report{}, false
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(canonical)))
	sum := h.Sum32()

	return report{
		City:        canonical,
		Condition:   conditions[sum%uint32(len(conditions))],
		TempC:       int(sum%30) + 5,
		HumidityPct: int(sum/7%60) + 30,
		WindKph:     int(sum/11%25) + 3,
	}, true
}

func handleGetWeather(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	city, err := req.RequireString("city")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, ok := lookup(city)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown city: %s", city)), nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func newServer() *server.MCPServer {
	s := server.NewMCPServer("weather-server", version, server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("get_weather",
			mcp.WithDescription("Get the current weather for a city. Use the English city name, e.g. Beijing."),
			mcp.WithString("city", mcp.Required(), mcp.Description("city name")),
		),
		handleGetWeather,
	)
	return s
}
