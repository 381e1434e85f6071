package views

import "github.com/microcosm-cc/bluemonday"

// postPolicy is the allow-list for blog post HTML. UGC strips scripts,
// iframes and event-handler attributes; links get rel="nofollow".
var postPolicy = bluemonday.UGCPolicy()

// SanitizePostHTML returns a safe rendering of a blog post body. It is
// deterministic and idempotent; empty input yields empty output.
func SanitizePostHTML(raw string) string {
	if raw == "" {
		return ""
	}
	return postPolicy.Sanitize(raw)
}
