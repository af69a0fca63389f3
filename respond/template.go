package respond

import "strings"

// Vars are the placeholder values available to response templates.
type Vars struct {
	Username    string
	VideoTitle  string
	CustomLink  string
	CommentText string
	Platform    string
}

// RenderTemplate substitutes the known {{placeholder}} tokens in tmpl.
// Unknown placeholders pass through untouched so a typo in a template is
// visible in the sent text instead of silently disappearing.
func RenderTemplate(tmpl string, v Vars) string {
	return strings.NewReplacer(
		"{{username}}", v.Username,
		"{{videoTitle}}", v.VideoTitle,
		"{{customLink}}", v.CustomLink,
		"{{commentText}}", v.CommentText,
		"{{platform}}", v.Platform,
	).Replace(tmpl)
}

// needsTitle reports whether tmpl references the content title, so the
// responder can skip the extra API call when it does not.
func needsTitle(tmpl string) bool {
	return strings.Contains(tmpl, "{{videoTitle}}")
}
