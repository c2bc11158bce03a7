package content

import (
	"slices"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain text", "hello world", "hello world"},
		{"script stripped", `hi <script>alert("x")</script>there`, "hi there"},
		{"event handler stripped", `<b onclick="evil()">bold</b>`, "<b>bold</b>"},
		{"allowed formatting kept", "<em>fine</em>", "<em>fine</em>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	got, err := RenderMarkdown("# Title\n\nsome *emphasis*")
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if !strings.Contains(got, "<h1") || !strings.Contains(got, "<em>emphasis</em>") {
		t.Errorf("rendered = %q", got)
	}

	// Raw HTML in the markdown source does not survive sanitization.
	got, err = RenderMarkdown(`safe <script>alert("x")</script> text`)
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if strings.Contains(got, "<script") {
		t.Errorf("script survived rendering: %q", got)
	}
}

func TestValidRoomName(t *testing.T) {
	valid := []string{"general", "dev talk", "комната", "room-2", "a.b_c"}
	for _, name := range valid {
		if !ValidRoomName(name) {
			t.Errorf("ValidRoomName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", "room/name", "room:name", "<room>", "room\nname"}
	for _, name := range invalid {
		if ValidRoomName(name) {
			t.Errorf("ValidRoomName(%q) = true, want false", name)
		}
	}
}

func TestMentions(t *testing.T) {
	kinds := []string{"helper", "critic"}
	cases := []struct {
		name, in string
		want     []string
	}{
		{"none", "hello world", nil},
		{"single", "@helper do this", []string{"helper"}},
		{"mid sentence", "please @critic review", []string{"critic"}},
		{"order of appearance", "@critic then @helper", []string{"critic", "helper"}},
		{"distinct", "@helper and @helper again", []string{"helper"}},
		{"word boundary", "@helpers is not a mention", nil},
		{"no space before", "mail@helper is not a mention", nil},
		{"unknown kind", "@stranger hello", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Mentions(tc.in, kinds)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("Mentions(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct {
		name, in, kind, want string
	}{
		{"leading", "@helper summarize this", "helper", "summarize this"},
		{"mid sentence", "please @helper look", "helper", "please look"},
		{"mention only", "@helper", "helper", ""},
		{"repeated", "@helper one @helper two", "helper", "one two"},
		{"other kinds kept", "@critic then @helper go", "helper", "@critic then go"},
		{"whitespace collapsed", "  @helper   lots   of   space  ", "helper", "lots of space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripMention(tc.in, tc.kind); got != tc.want {
				t.Errorf("StripMention(%q, %q) = %q, want %q", tc.in, tc.kind, got, tc.want)
			}
		})
	}
}
