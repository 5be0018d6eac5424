package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CLISynthesizer is the local fallback voice: it shells out to an
// espeak-compatible command so something is still audible when the
// backend is down.
type CLISynthesizer struct {
	Command string
}

func NewCLISynthesizer(command string) *CLISynthesizer {
	if strings.TrimSpace(command) == "" {
		command = "espeak-ng"
	}
	return &CLISynthesizer{Command: command}
}

func (s *CLISynthesizer) Speak(ctx context.Context, text, language string, rate float64) error {
	args := []string{}
	if strings.TrimSpace(language) != "" {
		args = append(args, "-v", language)
	}
	if rate > 0 {
		// espeak speed is words per minute; 175 is its default.
		args = append(args, "-s", strconv.Itoa(int(rate*175)))
	}
	args = append(args, text)

	cmd := exec.CommandContext(ctx, s.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("local synthesis (%s): %w: %s", s.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CLIPlayer pipes synthesized audio into a player command such as
// mpg123 or ffplay.
type CLIPlayer struct {
	Command string
	Args    []string
}

func NewCLIPlayer(command string) *CLIPlayer {
	if strings.TrimSpace(command) == "" {
		return &CLIPlayer{Command: "mpg123", Args: []string{"-q", "-"}}
	}
	parts := strings.Fields(command)
	return &CLIPlayer{Command: parts[0], Args: append(parts[1:], "-")}
}

func (p *CLIPlayer) Play(ctx context.Context, audio []byte, format string) error {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback (%s): %w: %s", p.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
