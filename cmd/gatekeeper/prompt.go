package main

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/governor"
)

// readPrompt returns the prompt from the positional argument, the file or
// stdin, in that order of preference.
func readPrompt(cmd *cobra.Command, args []string, file string) (string, error) {
	var text string
	switch {
	case len(args) > 0:
		text = args[0]
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		text = string(data)
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		text = string(data)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty prompt")
	}
	return text, nil
}

// promptCacheKey covers every prompt input that changes the completion.
func promptCacheKey(model, system, body string, maxTokens uint64, temperature float64) string {
	return governor.BuildCacheKey(
		model,
		system,
		body,
		strconv.FormatUint(maxTokens, 10),
		strconv.FormatFloat(temperature, 'g', -1, 64),
	)
}
