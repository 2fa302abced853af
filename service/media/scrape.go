package media

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// Scrape reads the title, description, favicon and Open Graph tags of an HTML document. Relative URLs are
// resolved against base.
func Scrape(r io.Reader, contentType string, base *url.URL) (*Page, error) {
	utf8Reader, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(utf8Reader)
	if err != nil {
		return nil, err
	}

	var (
		title       string
		description string
		favicon     string
		og          = map[string]string{}
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Body:
				// everything we need lives in the head
				return
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Meta:
				name := strings.ToLower(attr(n, "name"))
				property := strings.ToLower(attr(n, "property"))
				content := strings.TrimSpace(attr(n, "content"))
				switch {
				case name == "description" && description == "":
					description = content
				case strings.HasPrefix(property, "og:"):
					if _, seen := og[property]; !seen {
						og[property] = content
					}
				}
			case atom.Link:
				if favicon == "" && isIconRel(attr(n, "rel")) {
					favicon = resolveReference(base, attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	page := &Page{Title: title, Description: description, Favicon: favicon}

	if og["og:title"] != "" && og["og:image"] != "" && og["og:url"] != "" {
		page.OpenGraph = &OpenGraph{
			Title:       og["og:title"],
			Description: og["og:description"],
			Image:       resolveReference(base, og["og:image"]),
			URL:         resolveReference(base, og["og:url"]),
		}
		if page.Title == "" {
			page.Title = page.OpenGraph.Title
		}
		if page.Description == "" {
			page.Description = page.OpenGraph.Description
		}
	}

	return page, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func isIconRel(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == "icon" || r == "apple-touch-icon" {
			return true
		}
	}
	return false
}
