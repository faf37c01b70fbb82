package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

// SignatureHeader carries the HMAC of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

var (
	// ErrBadSignature means the webhook body does not match its signature.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrVerification means the subscription handshake was rejected.
	ErrVerification = errors.New("webhook verification failed")
)

// Payload is the webhook notification envelope.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single field update.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds inbound messages and the contacts that sent them.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundPayload `json:"messages"`
}

// Contact identifies a sender.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Media is an attachment reference.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// InboundPayload is one message as delivered by the webhook.
type InboundPayload struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Audio    *Media `json:"audio,omitempty"`
	Video    *Media `json:"video,omitempty"`
	Document *Media `json:"document,omitempty"`
	Button   *struct {
		Text string `json:"text"`
	} `json:"button,omitempty"`
	Interactive *struct {
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

// Verify answers the GET subscription handshake and returns the challenge.
func Verify(mode, token, challenge, expectedToken string) (string, error) {
	if expectedToken == "" || mode != "subscribe" || !hmac.Equal([]byte(token), []byte(expectedToken)) {
		return "", ErrVerification
	}
	return challenge, nil
}

// VerifySignature checks header against the HMAC-SHA256 of body keyed by
// appSecret. An empty appSecret disables the check.
func VerifySignature(appSecret string, body []byte, header string) error {
	if appSecret == "" {
		return nil
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook extracts inbound customer messages. Status notifications and
// unsupported message types are skipped.
func ParseWebhook(body []byte) ([]model.InboundMessage, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}

	var out []model.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				in, ok := toInbound(m)
				if !ok {
					continue
				}
				in.Name = names[m.From]
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func toInbound(m InboundPayload) (model.InboundMessage, bool) {
	in := model.InboundMessage{
		Phone:      m.From,
		ExternalID: m.ID,
		ReceivedAt: parseTimestamp(m.Timestamp),
	}
	if in.Phone == "" {
		return in, false
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return in, false
		}
		in.Text = m.Text.Body
	case "button":
		if m.Button == nil {
			return in, false
		}
		in.Text = m.Button.Text
	case "interactive":
		switch {
		case m.Interactive == nil:
			return in, false
		case m.Interactive.ButtonReply != nil:
			in.Text = m.Interactive.ButtonReply.ID
		case m.Interactive.ListReply != nil:
			in.Text = m.Interactive.ListReply.ID
		default:
			return in, false
		}
	case "image", "audio", "video", "document":
		media := mediaOf(m)
		if media == nil {
			return in, false
		}
		in.Text = media.Caption
		in.MediaURL = "whatsapp-media:" + media.ID
	default:
		return in, false
	}
	return in, true
}

func mediaOf(m InboundPayload) *Media {
	switch m.Type {
	case "image":
		return m.Image
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "document":
		return m.Document
	}
	return nil
}

func parseTimestamp(v string) time.Time {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
