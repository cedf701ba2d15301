package asyncssr

import (
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier     *minify.M
	minifierOnce sync.Once
)

// getMinifier returns the shared HTML minifier. It is configured to leave
// hydration-relevant structure alone: comments stay because adjacent text
// nodes are separated by comment nodes, end tags and quotes stay because the
// client reconciles against the exact markup shape.
func getMinifier() *minify.M {
	minifierOnce.Do(func() {
		minifier = minify.New()
		minifier.Add("text/html", &html.Minifier{
			KeepComments:     true,
			KeepEndTags:      true,
			KeepQuotes:       true,
			KeepDocumentTags: true,
		})
	})
	return minifier
}

// minifyHTML compacts rendered markup. On minifier failure the original
// content is returned unchanged, a render never fails over whitespace.
func minifyHTML(content string) string {
	if strings.Contains(content, "<") {
		minified, err := getMinifier().String("text/html", content)
		if err != nil {
			return content
		}
		return minified
	}
	return strings.Join(strings.Fields(content), " ")
}
