package annotate

import (
	"io"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseDocument parses a full HTML page.
func ParseDocument(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// Render writes doc back out as HTML.
func Render(w io.Writer, doc *html.Node) error {
	return html.Render(w, doc)
}

func isElement(n *html.Node, tag atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == tag
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	return lo.Contains(strings.Fields(v), class)
}

// walk visits n and its descendants in document order until visit returns
// false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// findFirst returns the first descendant of root (excluding root) matching
// match.
func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	var found *html.Node
	for c := root.FirstChild; c != nil && found == nil; c = c.NextSibling {
		walk(c, func(n *html.Node) bool {
			if match(n) {
				found = n
				return false
			}
			return true
		})
	}
	return found
}

// findAll returns every descendant of root (excluding root) matching match.
func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	if root == nil {
		return nil
	}
	var out []*html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c, func(n *html.Node) bool {
			if match(n) {
				out = append(out, n)
			}
			return true
		})
	}
	return out
}

func byID(root *html.Node, id string) *html.Node {
	if root == nil {
		return nil
	}
	if v, ok := attr(root, "id"); ok && root.Type == html.ElementNode && v == id {
		return root
	}
	return findFirst(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := attr(n, "id")
		return ok && v == id
	})
}

// hasAncestor reports whether some ancestor of n strictly below stop matches.
func hasAncestor(n, stop *html.Node, match func(*html.Node) bool) bool {
	for p := n.Parent; p != nil && p != stop; p = p.Parent {
		if match(p) {
			return true
		}
	}
	return false
}

// elementChildren returns the direct element children of n.
func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// trimmedText drops surrounding whitespace, including the full-width space.
func trimmedText(n *html.Node) string {
	return strings.TrimSpace(textContent(n))
}

func newElement(tag atom.Atom, text string, attrs ...html.Attribute) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag.String(),
		DataAtom: tag,
		Attr:     attrs,
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

func insertAfter(ref, n *html.Node) {
	ref.Parent.InsertBefore(n, ref.NextSibling)
}

func remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
