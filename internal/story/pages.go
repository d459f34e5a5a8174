package story

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPage is returned when a page number is not part of the book.
var ErrUnknownPage = errors.New("unknown page")

// Page is the static definition of one storybook page.
type Page struct {
	Number       int
	Illustration string // path relative to the illustration base URL
	Text         string // template, see RenderText
	HasChild     bool
	Pose         Pose   // set iff HasChild
	Scene        string // art direction for prompt-guided edits, set iff HasChild
}

// book is the page table. Keep it ordered by page number.
var book = []Page{
	{
		Number:       1,
		Illustration: "illustrations/page-01.jpg",
		Text:         "Once upon a time, {name} woke up to find a tiny golden key on the windowsill.",
		HasChild:     true,
		Pose:         PoseLookingDownClose,
		Scene:        "a child in pajamas holding a small golden key in a sunny bedroom",
	},
	{
		Number:       2,
		Illustration: "illustrations/page-02.jpg",
		Text:         "Outside, the garden was humming with a secret.",
	},
	{
		Number:       3,
		Illustration: "illustrations/page-03.jpg",
		Text:         "{name} tiptoed past the sleeping cat, holding {his} breath.",
		HasChild:     true,
		Pose:         PoseProfileRight,
		Scene:        "a child tiptoeing past a sleeping orange cat in a hallway",
	},
	{
		Number:       4,
		Illustration: "illustrations/page-04.jpg",
		Text:         "At the bottom of the garden stood a door that had never been there before. {He} turned the key.",
		HasChild:     true,
		Pose:         PoseProfileLeft,
		Scene:        "a child turning a key in a small round door set into a garden wall",
	},
	{
		Number:       5,
		Illustration: "illustrations/page-05.jpg",
		Text:         "Behind the door, the sky was full of floating lanterns, and {name} gasped.",
		HasChild:     true,
		Pose:         PoseLookingUp,
		Scene:        "a child gazing up at hundreds of glowing paper lanterns in a violet sky",
	},
	{
		Number:       6,
		Illustration: "illustrations/page-06.jpg",
		Text:         "A fox in a velvet coat bowed low. \"We have been waiting for you, {name}.\"",
		HasChild:     true,
		Pose:         PoseThreeQuarter,
		Scene:        "a child meeting a fox wearing a velvet coat on a mossy path",
	},
	{
		Number:       7,
		Illustration: "illustrations/page-07.jpg",
		Text:         "The fox led the way across the bridge of stepping stones.",
	},
	{
		Number:       8,
		Illustration: "illustrations/page-08.jpg",
		Text:         "Far below, the river sparkled. {name} waved to the fish, and the fish waved back.",
		HasChild:     true,
		Pose:         PoseLookingDownDistant,
		Scene:        "a small child standing on a high stone bridge over a sparkling river",
	},
	{
		Number:       9,
		Illustration: "illustrations/page-09.jpg",
		Text:         "In the lantern market, everyone wanted to hear {his} name. \"{name}!\" they cheered.",
		HasChild:     true,
		Pose:         PoseFrontFacing,
		Scene:        "a child smiling in the middle of a busy lantern market full of animals",
	},
	{
		Number:       10,
		Illustration: "illustrations/page-10.jpg",
		Text:         "The owl queen placed a lantern in {his} hands. \"This one is yours to keep.\"",
		HasChild:     true,
		Pose:         PoseLookingDownClose,
		Scene:        "a child holding a glowing lantern given by a crowned owl",
	},
	{
		Number:       11,
		Illustration: "illustrations/page-11.jpg",
		Text:         "{name} walked home with the fox, the lantern lighting the way.",
		HasChild:     true,
		Pose:         PoseProfileRight,
		Scene:        "a child and a fox walking along a moonlit path carrying a lantern",
	},
	{
		Number:       12,
		Illustration: "illustrations/page-12.jpg",
		Text:         "And every night after, the lantern glowed on the windowsill. The end.",
	},
}

// Pages returns a copy of the page table in page-number order.
func Pages() []Page {
	out := make([]Page, len(book))
	copy(out, book)
	return out
}

// PageByNumber looks up a page.
func PageByNumber(n int) (Page, bool) {
	for _, p := range book {
		if p.Number == n {
			return p, true
		}
	}
	return Page{}, false
}

// PoseForPage returns the pose page n requires. ok is false when the page
// has no child (or does not exist).
func PoseForPage(n int) (Pose, bool) {
	p, found := PageByNumber(n)
	if !found || !p.HasChild {
		return "", false
	}
	return p.Pose, true
}

// PagesNeedingFaceSwap returns the child-bearing page numbers in ascending order.
func PagesNeedingFaceSwap() []int {
	var nums []int
	for _, p := range book {
		if p.HasChild {
			nums = append(nums, p.Number)
		}
	}
	sort.Ints(nums)
	return nums
}

// PosesFor returns the distinct poses needed by the given pages, in AllPoses
// order. Pages without a child contribute nothing.
func PosesFor(pages []int) []Pose {
	need := make(map[Pose]bool)
	for _, n := range pages {
		if pose, ok := PoseForPage(n); ok {
			need[pose] = true
		}
	}
	var out []Pose
	for _, p := range AllPoses {
		if need[p] {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the page table. It is called once at process start; a
// failure means the book definition is broken and nothing should run.
func Validate() error {
	return ValidatePages(book)
}

// ValidatePages checks that pages is a well-formed book: positive, unique,
// ascending page numbers, and a valid pose and scene on every child page.
func ValidatePages(pages []Page) error {
	var errs []string
	seen := make(map[int]bool)
	prev := 0
	for _, p := range pages {
		if p.Number <= 0 {
			errs = append(errs, fmt.Sprintf("page %d: number must be positive", p.Number))
		}
		if seen[p.Number] {
			errs = append(errs, fmt.Sprintf("page %d: duplicate", p.Number))
		}
		seen[p.Number] = true
		if p.Number < prev {
			errs = append(errs, fmt.Sprintf("page %d: out of order", p.Number))
		}
		prev = p.Number
		if p.Illustration == "" {
			errs = append(errs, fmt.Sprintf("page %d: missing illustration", p.Number))
		}
		switch {
		case p.HasChild && !p.Pose.Valid():
			errs = append(errs, fmt.Sprintf("page %d: child page has no valid pose (%q)", p.Number, p.Pose))
		case p.HasChild && p.Scene == "":
			errs = append(errs, fmt.Sprintf("page %d: child page has no scene", p.Number))
		case !p.HasChild && p.Pose != "":
			errs = append(errs, fmt.Sprintf("page %d: pose set on a page without a child", p.Number))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid page table: %s", strings.Join(errs, "; "))
	}
	return nil
}
