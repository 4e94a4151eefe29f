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

// Package models defines the data structures shared across the inbound
// document pipeline.
package models

import "time"

// Provider tags the webhook source a message was normalized from.
type Provider string

const (
	ProviderResend  Provider = "resend"
	ProviderGeneric Provider = "generic"
)

// InboundAttachment is a single decoded attachment of an inbound email.
type InboundAttachment struct {
	ExternalID string `json:"external_id"`
	FileName   string `json:"file_name"`
	MIMEType   string `json:"mime_type,omitempty"`
	Size       int64  `json:"size"`
	Content    []byte `json:"-"`
}

// NormalizedInboundEmail is the provider-independent form of a webhook payload.
//
// Everything downstream of the normalizer (ingestion, classification) works
// on this struct only; provider JSON never leaves the normalize package.
type NormalizedInboundEmail struct {
	Provider    Provider            `json:"provider"`
	MessageID   string              `json:"message_id"`
	FromEmail   string              `json:"from_email"`
	FromName    string              `json:"from_name,omitempty"`
	To          []string            `json:"to"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	ReceivedAt  time.Time           `json:"received_at"`
	Attachments []InboundAttachment `json:"attachments"`
}
