package story

import (
	"fmt"
	"net/url"
	"strings"
)

// Gender selects the pronouns used in page text and prompts.
type Gender string

const (
	GenderBoy     Gender = "boy"
	GenderGirl    Gender = "girl"
	GenderNeutral Gender = "neutral"
)

// ParseGender accepts the wire values plus a few common aliases. Empty maps
// to GenderNeutral.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boy", "male", "m":
		return GenderBoy, nil
	case "girl", "female", "f":
		return GenderGirl, nil
	case "", "neutral", "other", "nonbinary":
		return GenderNeutral, nil
	}
	return "", fmt.Errorf("unknown gender %q", s)
}

type pronouns struct {
	subject, object, possessive string
}

func (g Gender) pronouns() pronouns {
	switch g {
	case GenderBoy:
		return pronouns{"he", "him", "his"}
	case GenderGirl:
		return pronouns{"she", "her", "her"}
	default:
		return pronouns{"they", "them", "their"}
	}
}

// Noun is the word used for the child in prompts.
func (g Gender) Noun() string {
	switch g {
	case GenderBoy:
		return "boy"
	case GenderGirl:
		return "girl"
	default:
		return "child"
	}
}

// RenderText fills a page text template. Supported placeholders are {name},
// {he}, {him}, {his} and their capitalized forms {He}, {Him}, {His}.
func RenderText(p Page, name string, g Gender) string {
	pr := g.pronouns()
	r := strings.NewReplacer(
		"{name}", name,
		"{he}", pr.subject,
		"{him}", pr.object,
		"{his}", pr.possessive,
		"{He}", capitalize(pr.subject),
		"{Him}", capitalize(pr.object),
		"{His}", capitalize(pr.possessive),
	)
	return r.Replace(p.Text)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// EditPrompt is the instruction for a prompt-guided edit that combines the
// page illustration (first image) with the child's photo (second image).
func EditPrompt(p Page, name string, g Gender) string {
	return fmt.Sprintf(
		"Redraw the first image so the %s in it has the face of the %s in the second image. "+
			"Scene: %s. Keep the %s's head %s. "+
			"Preserve the illustration's composition, colors and watercolor style exactly; "+
			"change only the face and hair so %s is recognizable. Do not add text.",
		g.Noun(), g.Noun(), p.Scene, g.Noun(), poseDirections[p.Pose], name,
	)
}

// IllustrationURL resolves a page illustration against the static base URL.
func IllustrationURL(baseURL string, p Page) (string, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse illustration base URL: %w", err)
	}
	ref, err := url.Parse(p.Illustration)
	if err != nil {
		return "", fmt.Errorf("parse illustration path %q: %w", p.Illustration, err)
	}
	return base.ResolveReference(ref).String(), nil
}
