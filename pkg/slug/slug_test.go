package slug_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/clubkit/pkg/slug"
)

func TestMake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple name", "Sunday Smashers", "sunday-smashers"},
		{"punctuation collapses", "Dave's Club!!!", "dave-s-club"},
		{"diacritics folded", "Café Crème", "cafe-creme"},
		{"multiple separators collapse", "a  -  b", "a-b"},
		{"leading and trailing junk trimmed", "  --Hello--  ", "hello"},
		{"digits kept", "5-a-side 2024", "5-a-side-2024"},
		{"empty input", "", ""},
		{"only special characters", "!!!", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, slug.Make(tt.input))
		})
	}
}

func TestMakeMaxLength(t *testing.T) {
	t.Parallel()

	got := slug.Make("a very long club name indeed", slug.MaxLength(10))
	assert.LessOrEqual(t, len(got), 10)
	assert.False(t, strings.HasSuffix(got, "-"))
}

func TestMakeWithSuffix(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^sunday-smashers-[a-z0-9]{6}$`)

	got := slug.Make("Sunday Smashers", slug.WithSuffix(6))
	assert.Regexp(t, pattern, got)

	// Two suffixed slugs for the same name should differ.
	other := slug.Make("Sunday Smashers", slug.WithSuffix(6))
	assert.NotEqual(t, got, other)
}

func TestMakeWithSuffixOnEmptyBase(t *testing.T) {
	t.Parallel()

	got := slug.Make("!!!", slug.WithSuffix(8))
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]{8}$`), got)
}
