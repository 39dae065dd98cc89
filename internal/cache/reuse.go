package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/klaus/internal/display"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/prompt"
)

// Decision is the user's answer to a reuse offer.
type Decision int

// Reuse decisions.
const (
	DecisionRegenerate Decision = iota
	DecisionReuse
	DecisionDeleteAndStartFresh
)

func (d Decision) String() string {
	switch d {
	case DecisionReuse:
		return "reuse"
	case DecisionDeleteAndStartFresh:
		return "delete"
	default:
		return "regenerate"
	}
}

// Offer describes a cached artifact to put in front of the user.
type Offer struct {
	Location Location
	Content  string
	// Label names the artifact in the question, e.g. "schema analysis".
	Label string
	// Dependents are removed along with the artifact on "delete and start
	// fresh". When empty, the delete option is not offered.
	Dependents []string
}

// OfferReuse shows a cached artifact and asks whether to reuse it. Short
// artifacts are shown in full; long ones as a preview with a pointer to the
// file. Answering "back" returns a navigation signal. Choosing "delete and
// start fresh" removes the artifact and its dependents before returning.
func (s *Store) OfferReuse(ctx context.Context, p prompt.Prompter, d *display.Display, offer Offer) (Decision, error) {
	label := offer.Label
	if label == "" {
		label = strings.ReplaceAll(string(offer.Location.Artifact), "_", " ")
	}

	if d != nil {
		d.Info("Found cached %s (%s)", label, offer.Location.Path)
		d.Preview(offer.Content, offer.Location.Path, display.DefaultPreviewLines, offer.Location.Artifact.IsMarkdown())
	}

	options := []string{
		fmt.Sprintf("Use cached %s", label),
		fmt.Sprintf("Regenerate %s", label),
	}
	if len(offer.Dependents) > 0 {
		options = append(options, fmt.Sprintf("Delete cached %s and start fresh", label))
	}

	idx, err := p.Select(ctx, fmt.Sprintf("A cached %s exists. What would you like to do?", label), options)
	if err != nil {
		if phase.IsNavigation(err) {
			return DecisionRegenerate, phase.Back("declined cached " + label)
		}
		return DecisionRegenerate, err
	}

	decision := []Decision{DecisionReuse, DecisionRegenerate, DecisionDeleteAndStartFresh}[idx]
	if decision == DecisionDeleteAndStartFresh {
		if err := s.Delete(offer.Location, offer.Dependents...); err != nil {
			return decision, err
		}
	}
	s.logger.Info("cache offer answered",
		"artifact", string(offer.Location.Artifact),
		"entity", offer.Location.Entity,
		"decision", decision.String())
	return decision, nil
}

// ReuseText loads the text artifact at loc and, if present, offers it. It
// returns the cached text and true only when the user chose to reuse it.
func (s *Store) ReuseText(ctx context.Context, p prompt.Prompter, d *display.Display, loc Location, label string, dependents ...string) (string, bool, error) {
	text, ok, err := s.LoadText(loc)
	if err != nil {
		s.logger.Warn("ignoring unreadable cache file", "path", loc.Path, "error", err.Error())
		return "", false, nil
	}
	if !ok {
		return "", false, nil
	}
	decision, err := s.OfferReuse(ctx, p, d, Offer{Location: loc, Content: text, Label: label, Dependents: dependents})
	if err != nil {
		return "", false, err
	}
	return text, decision == DecisionReuse, nil
}

// ReuseJSON is ReuseText for JSON artifacts; v is filled only on reuse.
func (s *Store) ReuseJSON(ctx context.Context, p prompt.Prompter, d *display.Display, loc Location, label string, v any) (bool, error) {
	text, reused, err := s.ReuseText(ctx, p, d, loc, label)
	if err != nil || !reused {
		return false, err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		s.logger.Warn("ignoring corrupt cache file", "path", loc.Path, "error", err.Error())
		return false, nil
	}
	return true, nil
}
