package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	// Importing charset registers decoders for the common legacy
	// encodings (gbk, gb2312, iso-8859-*, windows-1252, ...).
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Subject and body lengths are bounded so a single huge message cannot
// blow up the outbound notification.
const maxExcerptRunes = 500

// unavailableBody is substituted when a message has no decodable
// plain-text part.
const unavailableBody = "content unavailable"

// Message is the normalized summary of one raw mail message.
type Message struct {
	ID          string // Message-ID header, may be empty
	Subject     string
	Sender      string
	BodyExcerpt string    // at most 500 runes
	ReceivedAt  time.Time // UTC
	Account     string
	Provider    string
}

// Parse converts raw RFC 5322 bytes into a Message. Header decode problems
// degrade to replacement characters rather than failing; only a message
// whose headers cannot be parsed at all yields an error. A missing or
// unparsable Date header is substituted with now, which also exempts the
// message from window filtering.
func Parse(raw []byte, now time.Time) (Message, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (r == nil || !message.IsUnknownCharset(err)) {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	defer r.Close()

	msg := Message{
		Subject:     decodeSubject(r.Header),
		Sender:      senderAddress(r.Header),
		BodyExcerpt: truncateRunes(extractBody(r), maxExcerptRunes),
		ReceivedAt:  receivedTime(r.Header, now),
	}
	if id, err := r.Header.MessageID(); err == nil {
		msg.ID = id
	}
	return msg, nil
}

// decodeSubject returns the decoded Subject header. When the library
// rejects the header (unknown charset, malformed encoded-words), each word
// is decoded individually with UTF-8 replacement substitution on failure
// and the results joined with single spaces.
func decodeSubject(h mail.Header) string {
	subject, err := h.Subject()
	if err == nil {
		return subject
	}

	raw := h.Get("Subject")
	if raw == "" {
		return ""
	}

	dec := mime.WordDecoder{CharsetReader: charset.Reader}
	words := strings.Fields(raw)
	for i, w := range words {
		decoded, err := dec.DecodeHeader(w)
		if err != nil {
			decoded = strings.ToValidUTF8(w, "�")
		}
		words[i] = decoded
	}
	return strings.Join(words, " ")
}

func senderAddress(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		a := addrs[0]
		if a.Name != "" {
			return fmt.Sprintf("%s <%s>", a.Name, a.Address)
		}
		return a.Address
	}
	return strings.TrimSpace(h.Get("From"))
}

// extractBody walks the parts depth-first and returns the first decodable
// text/plain body, or the sentinel when none exists.
func extractBody(r *mail.Reader) string {
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			return unavailableBody
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return unavailableBody
		}
		if part == nil {
			return unavailableBody
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, err := header.ContentType()
		if err != nil || ctype != "text/plain" {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil && len(data) == 0 {
			continue
		}
		text := strings.TrimSpace(strings.ToValidUTF8(string(data), "�"))
		if text == "" {
			continue
		}
		return text
	}
}

func receivedTime(h mail.Header, now time.Time) time.Time {
	date, err := h.Date()
	if err != nil || date.IsZero() {
		return now.UTC()
	}
	return date.UTC()
}

// truncateRunes cuts s to at most n runes without splitting a multi-byte
// character.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
