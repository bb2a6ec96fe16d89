// ABOUTME: Built-in tools the agent can call during a search
// ABOUTME: current_time resolves relative dates like "next Friday" in the traveller's timezone

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// CurrentTimeToolName is the function name the model calls.
const CurrentTimeToolName = "current_time"

type currentTimeArgs struct {
	Timezone string `json:"timezone"`
}

type currentTimeResult struct {
	Timezone string `json:"timezone"`
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
	Time     string `json:"time"`
}

// CurrentTimeTool reports the current date, weekday and time in an IANA
// timezone (UTC when none is given). The date in the instructions is fixed
// at startup; this reports the live one.
func CurrentTimeTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Name:        CurrentTimeToolName,
		Description: "Get the current date, weekday and time, optionally in an IANA timezone such as America/New_York.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"timezone": {
					Type:        jsonschema.String,
					Description: "IANA timezone name. Defaults to UTC.",
				},
			},
		},
		Handler: func(ctx context.Context, arguments string) (string, error) {
			var args currentTimeArgs
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if args.Timezone == "" {
				args.Timezone = "UTC"
			}
			loc, err := time.LoadLocation(args.Timezone)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q", args.Timezone)
			}

			t := now().In(loc)
			out, err := json.Marshal(currentTimeResult{
				Timezone: args.Timezone,
				Date:     t.Format("2006-01-02"),
				Weekday:  t.Weekday().String(),
				Time:     t.Format("15:04"),
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
