package mail

import (
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// envelope is a validated message ready for the wire.
type envelope struct {
	from       string
	recipients []string
	subject    string
	body       string
	date       time.Time
	messageID  string
}

func newEnvelope(from string, to []string, subject, body string, now time.Time) envelope {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.TrimSuffix(from[at+1:], ">")
	}
	return envelope{
		from:       from,
		recipients: to,
		subject:    subject,
		body:       body,
		date:       now,
		messageID:  fmt.Sprintf("<%s@%s>", uuid.NewString(), domain),
	}
}

// bytes renders RFC 5322 headers followed by a CRLF-normalised body.
func (e envelope) bytes() []byte {
	var b strings.Builder
	writeHeader(&b, "From", e.from)
	writeHeader(&b, "To", strings.Join(e.recipients, ", "))
	writeHeader(&b, "Subject", encodeHeader(e.subject))
	writeHeader(&b, "Date", e.date.Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", e.messageID)
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", "text/plain; charset=UTF-8")
	writeHeader(&b, "Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(normaliseNewlines(e.body))
	return []byte(b.String())
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// encodeHeader strips line breaks and Q-encodes non-ASCII text.
func encodeHeader(value string) string {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	return mime.QEncoding.Encode("utf-8", value)
}

func normaliseNewlines(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\n", "\r\n")
}

// uniqueAddresses trims, drops blanks and removes case-insensitive duplicates
// while preserving the first spelling.
func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, addr)
	}
	return result
}
