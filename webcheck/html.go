package webcheck

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// dollarPattern matches a rendered dollar amount like "$12", "$1,234.56".
var dollarPattern = regexp.MustCompile(`\$\s*-?[\d,]+(?:\.\d+)?`)

// balanceLabels are the labels a balance figure is rendered next to.
var balanceLabels = []string{"剩余额度", "可用额度", "余额", "balance", "credit"}

// balanceFromHTML extracts a balance string from a raw HTML snapshot. It is
// the server-side fallback for pages where in-page script evaluation came up
// empty: first the known value widgets, then label-adjacent text, then a
// document-wide dollar sniff.
func balanceFromHTML(htmlText string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return "", false
	}

	// Known value widgets of the console UI.
	for _, sel := range []string{".semi-descriptions-value", ".semi-statistic-value", "[class*='balance']"} {
		found := ""
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if m := dollarPattern.FindString(text); m != "" {
				found = m
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}

	// Elements whose own text carries a balance label plus a dollar figure.
	found := ""
	doc.Find("div,span,td,dd,p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if len(text) > 120 {
			return true
		}
		lower := strings.ToLower(text)
		for _, label := range balanceLabels {
			if strings.Contains(lower, label) {
				if m := dollarPattern.FindString(text); m != "" {
					found = m
					return false
				}
			}
		}
		return true
	})
	if found != "" {
		return found, true
	}

	// Last resort: any dollar figure in the body.
	if m := dollarPattern.FindString(doc.Find("body").Text()); m != "" {
		return m, true
	}
	return "", false
}

// pageTitle pulls the <title> text out of a raw HTML snapshot for
// diagnostics. Returns "" when the document has no title.
func pageTitle(htmlText string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlText))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
