package telegram

import (
	"regexp"
	"strings"
)

// allowedTags is the inline subset Telegram renders. Every other tag is
// stripped while its text survives.
var allowedTags = map[string]bool{
	"b": true, "i": true, "s": true, "u": true,
	"code": true, "pre": true, "a": true,
	"blockquote": true, "tg-spoiler": true,
}

var (
	tagToken = regexp.MustCompile(`^<(/?)([a-zA-Z][a-zA-Z0-9-]*)((?:\s[^<>]*)?)/?>`)
	// Entities already escaped stay as they are, which is what makes the
	// whole pass idempotent.
	entityToken = regexp.MustCompile(`^&(?:[a-zA-Z][a-zA-Z0-9]{1,31}|#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6});`)

	hrefAttr  = regexp.MustCompile(`href\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	classAttr = regexp.MustCompile(`class\s*=\s*(?:"(language-[A-Za-z0-9_+#.-]*)"|'(language-[A-Za-z0-9_+#.-]*)')`)
)

// SanitizeHTML reduces arbitrary model output to the HTML Telegram accepts:
// tags outside the whitelist are stripped (text kept), stray < > & are
// escaped without double-escaping existing entities, unclosed tags are
// closed and unmatched closers dropped. Running it twice changes nothing.
func SanitizeHTML(input string) string {
	var out strings.Builder
	out.Grow(len(input))
	var stack []string

	i := 0
	for i < len(input) {
		switch input[i] {
		case '<':
			m := tagToken.FindStringSubmatch(input[i:])
			if m == nil {
				out.WriteString("&lt;")
				i++
				continue
			}
			i += len(m[0])
			name := strings.ToLower(m[2])
			if !allowedTags[name] {
				continue
			}
			if m[1] == "/" {
				stack = closeTag(&out, stack, name)
				continue
			}
			out.WriteString(openTag(name, m[3]))
			stack = append(stack, name)

		case '&':
			if e := entityToken.FindString(input[i:]); e != "" {
				out.WriteString(e)
				i += len(e)
				continue
			}
			out.WriteString("&amp;")
			i++

		case '>':
			out.WriteString("&gt;")
			i++

		default:
			j := strings.IndexAny(input[i:], "<>&")
			if j < 0 {
				out.WriteString(input[i:])
				i = len(input)
				continue
			}
			out.WriteString(input[i : i+j])
			i += j
		}
	}

	for j := len(stack) - 1; j >= 0; j-- {
		out.WriteString("</" + stack[j] + ">")
	}
	return out.String()
}

// openTag renders a normalized opening tag. Attributes are dropped except
// the href of a link and the language class of a code block.
func openTag(name, attrs string) string {
	switch name {
	case "a":
		if m := hrefAttr.FindStringSubmatch(attrs); m != nil {
			href := m[1]
			if href == "" {
				href = m[2]
			}
			return `<a href="` + escapeAttr(href) + `">`
		}
	case "code":
		if m := classAttr.FindStringSubmatch(attrs); m != nil {
			class := m[1]
			if class == "" {
				class = m[2]
			}
			return `<code class="` + class + `">`
		}
	}
	return "<" + name + ">"
}

// closeTag pops the stack down to the matching opener, closing anything
// opened inside it on the way. A closer with no opener is dropped.
func closeTag(out *strings.Builder, stack []string, name string) []string {
	idx := -1
	for j := len(stack) - 1; j >= 0; j-- {
		if stack[j] == name {
			idx = j
			break
		}
	}
	if idx < 0 {
		return stack
	}
	for j := len(stack) - 1; j >= idx; j-- {
		out.WriteString("</" + stack[j] + ">")
	}
	return stack[:idx]
}

// escapeAttr escapes an attribute value, leaving existing entities alone.
func escapeAttr(value string) string {
	var out strings.Builder
	out.Grow(len(value))
	i := 0
	for i < len(value) {
		switch value[i] {
		case '&':
			if e := entityToken.FindString(value[i:]); e != "" {
				out.WriteString(e)
				i += len(e)
				continue
			}
			out.WriteString("&amp;")
			i++
		case '<':
			out.WriteString("&lt;")
			i++
		case '>':
			out.WriteString("&gt;")
			i++
		case '"':
			out.WriteString("&quot;")
			i++
		default:
			out.WriteByte(value[i])
			i++
		}
	}
	return out.String()
}

// escapeText escapes plain text for embedding in Telegram HTML.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// stripTags removes every tag, producing the plain-text fallback used when
// Telegram rejects the HTML version of a message.
func stripTags(input string) string {
	var out strings.Builder
	out.Grow(len(input))
	i := 0
	for i < len(input) {
		if input[i] == '<' {
			if m := tagToken.FindString(input[i:]); m != "" {
				i += len(m)
				continue
			}
		}
		out.WriteByte(input[i])
		i++
	}
	text := out.String()
	for entity, plain := range map[string]string{
		"&lt;": "<", "&gt;": ">", "&quot;": `"`, "&#34;": `"`, "&#39;": "'",
	} {
		text = strings.ReplaceAll(text, entity, plain)
	}
	return strings.ReplaceAll(text, "&amp;", "&")
}
