package poller

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// ExtractSnippet turns a raw message prefix into at most maxRunes of plain
// text. The prefix may be cut mid-part; whatever decoded cleanly before the
// cut is used. A prefix that cannot be read as a message yields "".
func ExtractSnippet(raw []byte, maxRunes int) string {
	if len(bytes.TrimSpace(raw)) == 0 || maxRunes <= 0 {
		return ""
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var body bodies
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(strings.ToLower(mediaType), "multipart/") && params["boundary"] != "" {
		body.walkMultipart(multipart.NewReader(msg.Body, params["boundary"]))
	} else {
		body.add(mediaType, decodeBody(msg.Header.Get("Content-Transfer-Encoding"), msg.Body))
	}

	text := body.text
	if strings.TrimSpace(text) == "" && body.html != "" {
		text = htmlToText(body.html)
	}
	return truncateRunes(collapseWhitespace(text), maxRunes)
}

type bodies struct {
	text string
	html string
}

func (b *bodies) add(mediaType string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	content := strings.ToValidUTF8(string(payload), "")
	switch strings.ToLower(mediaType) {
	case "text/html":
		if b.html == "" {
			b.html = content
		}
	case "text/plain", "":
		if b.text == "" {
			b.text = content
		}
	}
}

// walkMultipart keeps the first text/plain and first text/html part found at
// any depth. A read error ends the walk with what has been collected.
func (b *bodies) walkMultipart(reader *multipart.Reader) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}
		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if strings.EqualFold(disposition, "attachment") {
			continue
		}

		if strings.HasPrefix(strings.ToLower(mediaType), "multipart/") && params["boundary"] != "" {
			b.walkMultipart(multipart.NewReader(part, params["boundary"]))
			continue
		}
		b.add(mediaType, decodeBody(part.Header.Get("Content-Transfer-Encoding"), part))
		if b.text != "" {
			return
		}
	}
}

// decodeBody returns as much decoded content as could be read; truncated
// input is not an error here.
func decodeBody(encoding string, r io.Reader) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	out, _ := io.ReadAll(r)
	return out
}

// newlineStripper drops CR and LF so a base64 body cut mid-line still
// decodes up to the last complete quantum.
type newlineStripper struct {
	r io.Reader
}

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		k := 0
		for _, ch := range p[:c] {
			if ch != '\r' && ch != '\n' {
				p[k] = ch
				k++
			}
		}
		if k > 0 || err != nil {
			return k, err
		}
	}
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head, title").Remove()
	doc.Find("br, p, div, td, th, tr, li, h1, h2, h3, h4, h5, h6").AppendHtml(" ")
	return doc.Text()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
