// Package classify runs one image through the describe-then-classify
// protocol: the model first describes the image in its own words, then picks
// the category rule that fits the description, answering with a small JSON
// object.
package classify

import (
	"context"
	"fmt"

	"github.com/docker/image-sorter/pkg/engine"
	"github.com/docker/image-sorter/pkg/internal/utils"
	"github.com/docker/image-sorter/pkg/logging"
)

// MaxTokens bounds the model's reply.
const MaxTokens = 512

// Completer sends a chat completion to the engine.
type Completer interface {
	ChatComplete(ctx context.Context, systemPrompt string, parts []engine.Part, maxTokens int) (string, error)
}

// Result is the outcome of one classification.
type Result struct {
	// Rule is the matched rule, or nil when nothing matched.
	Rule *Rule
	// Description is the model's description of the image.
	Description string
	// Reasoning is the model's justification.
	Reasoning string
	// Raw is the unmodified reply.
	Raw string
	// ParseErr records why the reply could not be decoded. A parse failure
	// is treated as no match rather than as an error.
	ParseErr error
}

// Matched reports whether a rule was selected.
func (r Result) Matched() bool {
	return r.Rule != nil
}

// Classifier classifies images against category rules.
type Classifier struct {
	log       logging.Logger
	completer Completer
	encoder   *Encoder
}

// NewClassifier creates a Classifier that stages images in scratchDir.
func NewClassifier(log logging.Logger, completer Completer, scratchDir string) *Classifier {
	return &Classifier{
		log:       log,
		completer: completer,
		encoder:   NewEncoder(scratchDir),
	}
}

// Classify asks the engine which rule, if any, the image at imagePath fits.
// Unreadable images and failed engine requests are returned as errors; a
// reply that cannot be parsed is a no-match Result with ParseErr set.
func (c *Classifier) Classify(ctx context.Context, imagePath string, rules []Rule) (Result, error) {
	dataURL, err := c.encoder.Encode(imagePath)
	if err != nil {
		return Result{}, fmt.Errorf("encoding %s: %w", imagePath, err)
	}

	reply, err := c.completer.ChatComplete(ctx, SystemPrompt, []engine.Part{
		engine.TextPart(UserPrompt(rules)),
		engine.ImagePart(dataURL),
	}, MaxTokens)
	if err != nil {
		return Result{}, err
	}

	result := Result{Raw: reply}
	resp, err := ParseResponse(Extract(reply))
	if err != nil {
		result.ParseErr = err
		c.log.Warnf("Unparsable reply for %s: %s", utils.SanitizeForLog(imagePath), utils.SanitizeForLogN(reply, 0))
		return result, nil
	}
	result.Description = resp.Description
	result.Reasoning = resp.Reasoning
	result.Rule = resp.Select(rules)
	c.log.Debugf("Classified %s: %s | %s", utils.SanitizeForLog(imagePath),
		utils.SanitizeForLog(resp.Description), utils.SanitizeForLog(resp.Reasoning))
	return result, nil
}
