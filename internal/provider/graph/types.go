// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shineum/mailsend-lite/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	From                   *recipient        `json:"from,omitempty"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// messageHeader is a custom internet message header. Graph only accepts
// names starting with "X-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// tokenErrorResponse is the OAuth2 error body of the token endpoint.
type tokenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toRecipients(list []email.Address) []recipient {
	out := make([]recipient, 0, len(list))
	for _, a := range list {
		out = append(out, recipient{EmailAddress: emailAddress{Address: a.Email, Name: a.Name}})
	}
	return out
}

// buildSendMailRequest converts an email.Message into a Graph API sendMail
// request body, reading attachment contents from disk.
func buildSendMailRequest(msg *email.Message, maxSize int64) (*sendMailRequest, error) {
	body := messageBody{
		ContentType: "text",
		Content:     msg.Text,
	}
	if msg.IsHTML() {
		body.ContentType = "html"
		body.Content = msg.HTML
	}

	out := sendMailMessage{
		Subject:       msg.Subject,
		Body:          body,
		ToRecipients:  toRecipients(msg.To),
		CcRecipients:  toRecipients(msg.Cc),
		BccRecipients: toRecipients(msg.Bcc),
	}
	if msg.From.Email != "" {
		out.From = &recipient{EmailAddress: emailAddress{Address: msg.From.Email, Name: msg.From.Name}}
	}
	if msg.ReplyTo != "" {
		out.ReplyTo = toRecipients([]email.Address{email.ParseAddress(msg.ReplyTo)})
	}

	msg.Headers.Each(func(key, value string) {
		if !strings.HasPrefix(strings.ToUpper(key), "X-") {
			slog.Debug("Graph API accepts only X- headers, skipping", "header", key)
			return
		}
		out.InternetMessageHeaders = append(out.InternetMessageHeaders, messageHeader{Name: key, Value: value})
	})

	for _, att := range msg.Attachments {
		content, err := email.LoadAttachment(att, maxSize)
		if err != nil {
			return nil, fmt.Errorf("graph: %w", err)
		}
		out.Attachments = append(out.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename(),
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(content),
		})
	}

	return &sendMailRequest{Message: out, SaveToSentItems: true}, nil
}
