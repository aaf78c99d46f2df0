package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Compose renders msg as an RFC 5322 message. The HTML body is
// quoted-printable and attachments are base64 parts with their declared
// content type. It returns the raw bytes and the Message-ID header value.
func Compose(msg *Message, now time.Time) ([]byte, string, error) {
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), senderDomain(msg.FromEmail))

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(sanitizeHeader(msg.Subject))
	h.SetMessageID(messageID)
	h.SetAddressList("From", []*mail.Address{{Name: sanitizeHeader(msg.FromName), Address: sanitizeHeader(msg.FromEmail)}})
	h.SetAddressList("To", []*mail.Address{{Address: sanitizeHeader(msg.To)}})

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 {
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", fmt.Errorf("create message: %w", err)
		}
		if err := writeAndClose(w, []byte(msg.HTML)); err != nil {
			return nil, "", fmt.Errorf("write body: %w", err)
		}
		return buf.Bytes(), "<" + messageID + ">", nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	ih.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, "", fmt.Errorf("create body part: %w", err)
	}
	if err := writeAndClose(part, []byte(msg.HTML)); err != nil {
		return nil, "", fmt.Errorf("write body: %w", err)
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.ContentType, nil)
		ah.SetFilename(att.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("create attachment %q: %w", att.Filename, err)
		}
		if err := writeAndClose(w, att.Content); err != nil {
			return nil, "", fmt.Errorf("write attachment %q: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), "<" + messageID + ">", nil
}

func writeAndClose(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
