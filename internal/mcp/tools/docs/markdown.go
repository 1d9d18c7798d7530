package docs

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// Markdown renders an HTML fragment as simplified markdown.
func Markdown(fragment string) (string, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	render(doc, &sb, 0)
	out := multiSpace.ReplaceAllString(sb.String(), " ")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	out = multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out), nil
}

var headings = map[string]string{"h1": "# ", "h2": "## ", "h3": "### ", "h4": "#### ", "h5": "##### ", "h6": "###### "}

func render(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if inPre(n) {
			sb.WriteString(n.Data)
		} else {
			sb.WriteString(collapse(n.Data))
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "form":
			return
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				fmt.Fprintf(sb, "[Image: %s]", alt)
			}
			return
		case "br":
			sb.WriteString("\n")
			return
		}
		if h, ok := headings[n.Data]; ok {
			sb.WriteString("\n\n" + h)
		}
		switch n.Data {
		case "p", "div", "section", "article", "blockquote", "table":
			sb.WriteString("\n\n")
		case "tr":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "code":
			if n.Parent == nil || n.Parent.Data != "pre" {
				sb.WriteString("`")
			}
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if link(n) != "" {
				sb.WriteString("[")
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(c, sb, depth+1)
	}

	if n.Type != html.ElementNode {
		return
	}
	if _, ok := headings[n.Data]; ok {
		sb.WriteString("\n\n")
	}
	switch n.Data {
	case "pre":
		sb.WriteString("\n```\n\n")
	case "code":
		if n.Parent == nil || n.Parent.Data != "pre" {
			sb.WriteString("`")
		}
	case "strong", "b":
		sb.WriteString("**")
	case "em", "i":
		sb.WriteString("*")
	case "a":
		if href := link(n); href != "" {
			fmt.Fprintf(sb, "](%s)", href)
		}
	}
}

// collapse folds whitespace runs to one space, keeping a space at either edge
// when the source had one.
func collapse(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s == "" {
			return ""
		}
		return " "
	}
	out := strings.Join(words, " ")
	if strings.TrimLeft(s, " \t\r\n") != s {
		out = " " + out
	}
	if strings.TrimRight(s, " \t\r\n") != s {
		out += " "
	}
	return out
}

func inPre(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "pre" {
			return true
		}
	}
	return false
}

func link(n *html.Node) string {
	href := attr(n, "href")
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
