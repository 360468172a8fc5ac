// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailsource retrieves normalized parsed emails from the external
// parser service. The collector never speaks IMAP or Graph itself; the
// parser owns protocol details and hands over ParsedEmail records.
package mailsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paperchase/collector/internal/models"
)

// Client fetches pending parsed emails per mail account over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a parser service client.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// pendingResponse is a page of the /accounts/{id}/pending response.
type pendingResponse struct {
	Value []parsedEmailDTO `json:"value"`
}

// parsedEmailDTO mirrors the parser service's JSON for one email.
type parsedEmailDTO struct {
	MessageID string `json:"message_id"`
	From      struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"from"`
	Subject     string `json:"subject"`
	ReceivedAt  string `json:"received_at"`
	HasBody     bool   `json:"has_body"`
	Attachments []struct {
		Filename string `json:"filename"`
		Content  []byte `json:"content"`
	} `json:"attachments"`
}

// FetchPending returns the emails parsed for an account that have not been
// acknowledged yet.
func (c *Client) FetchPending(ctx context.Context, accountID string) ([]models.ParsedEmail, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/pending", c.baseURL, url.PathEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build pending request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pending emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("parser service error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("parser service returned HTTP %d for account %s", resp.StatusCode, accountID)
	}

	var page pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode pending response: %w", err)
	}

	emails := make([]models.ParsedEmail, 0, len(page.Value))
	for _, dto := range page.Value {
		emails = append(emails, toParsedEmail(dto, accountID))
	}

	return emails, nil
}

// Ack tells the parser an email was fully ingested (or permanently failed)
// so it is not handed out again.
func (c *Client) Ack(ctx context.Context, accountID, messageID string) error {
	endpoint := fmt.Sprintf("%s/accounts/%s/ack/%s",
		c.baseURL, url.PathEscape(accountID), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build ack request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("parser ack returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	return nil
}

// toParsedEmail converts the wire DTO into the canonical model.
func toParsedEmail(dto parsedEmailDTO, accountID string) models.ParsedEmail {
	email := models.ParsedEmail{
		MessageID: dto.MessageID,
		AccountID: accountID,
		From: models.EmailAddress{
			Address: dto.From.Address,
			Name:    dto.From.Name,
		},
		Subject: dto.Subject,
		HasBody: dto.HasBody,
	}

	if t, err := time.Parse(time.RFC3339, dto.ReceivedAt); err == nil {
		email.ReceivedAt = t
	}

	for _, a := range dto.Attachments {
		email.Attachments = append(email.Attachments, models.Attachment{
			Filename: a.Filename,
			Content:  a.Content,
		})
	}

	return email
}
