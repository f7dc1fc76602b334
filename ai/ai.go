// Package ai translates natural-language requests into control
// commands for the sequencer modules, using the Claude API.
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const commandSystemPromptTemplate = `You are a musical assistant for qmidiarp, a MIDI arpeggiator and step sequencer engine. Your job is to translate user requests into qmidiarp commands for sequencer module %d.

Available commands:
- wave <module> <step> <note>: Set a step to play a note (e.g., "wave 1 3 C4")
- mute <module> <step> [on|off]: Mute or unmute a step
- res <module> <value>: Steps per quarter note (1, 2, 3, 4, 6, 8 or 16)
- size <module> <value>: Pattern length in quarter notes (1-16)
- marker <module> <step>: Loop marker step; negative acts leftward, 0 removes it
- loopmode <module> <value>: Bitmask, bit0 reverse, bit1 ping-pong, bit2 no-loop
- vel <module> <value>: Output velocity 0-127
- notelength <module> <ticks>: Note length in ticks (192 ticks per quarter)
- transpose <module> <semitones>: Transposition, e.g. -12 or 7
- groove <tick> <velocity> <length>: Pairwise shuffle, each -100 to 100
- tempo <bpm>: Change tempo (20-300)

Parameter limits (IMPORTANT: values are plain numbers):
- Steps: 1-%d (pattern length)
- Notes: C0-C8 (e.g., C3, D#4, Bb2); the keyboard range is C2-B5
- Velocity: 0-127
- Tempo: 20-300

Current module state will be provided. Respond ONLY with the commands to execute, one per line, no explanations. Be concise and musical.

Examples:
User: "give me a rising bass line"
You: wave %d 1 C2
wave %d 2 E2
wave %d 3 G2
wave %d 4 C3

User: "add some shuffle"
You: groove 40 0 0`

// Client wraps the Claude API client.
type Client struct {
	client anthropic.Client
}

// New creates a new AI client.
func New(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Client{client: client}, nil
}

// NewFromEnv creates a new AI client using the ANTHROPIC_API_KEY env var.
func NewFromEnv() (*Client, error) {
	return New(os.Getenv("ANTHROPIC_API_KEY"))
}

// GenerateCommands asks Claude for commands implementing the request
// on the given module. moduleNum and numSteps parameterise the prompt;
// patternState is the rendered module for context.
func (c *Client) GenerateCommands(ctx context.Context, userRequest, patternState string, moduleNum, numSteps int) ([]string, error) {
	systemPrompt := fmt.Sprintf(commandSystemPromptTemplate,
		moduleNum, numSteps, moduleNum, moduleNum, moduleNum, moduleNum)
	userMessage := fmt.Sprintf("Current module %d:\n%s\n\nUser request: %s",
		moduleNum, patternState, userRequest)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			responseText += b.Text
		}
	}

	return parseCommandLines(responseText), nil
}

// parseCommandLines extracts command lines from a model response,
// dropping blanks and comments.
func parseCommandLines(text string) []string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	var commands []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			commands = append(commands, line)
		}
	}
	return commands
}
