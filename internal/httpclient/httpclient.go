// Copyright (C) 2024 igpkg contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public
// License along with this program. If not, see
// <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: LGPL-3.0

// Package httpclient is the single choke point every backend goes
// through to build an HTTP client. It injects a consistent timeout,
// TLS policy, and retry behavior.
package httpclient

import (
	"crypto/tls"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTimeout is the HTTP client's request timeout. The core
// imposes no other timeout (per spec).
const DefaultTimeout = 30 * time.Second

// Options configures [New].
type Options struct {
	// Insecure, when true, disables TLS certificate verification.
	// Testing only.
	Insecure bool

	// Timeout overrides [DefaultTimeout] when non-zero.
	Timeout time.Duration

	// RetryMax overrides the default retry count (4) when non-zero.
	RetryMax int
}

// New returns a [retryablehttp.Client] configured per opts. Retries are
// the HTTP client's concern, not the core's: every backend goes through
// this client instead of retrying resolution itself.
func New(opts Options) *retryablehttp.Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{} //nolint:gosec // Why: explicit opt-in, testing only.
		}
		transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // Why: explicit opt-in, testing only.
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	if opts.RetryMax > 0 {
		c.RetryMax = opts.RetryMax
	}
	// Silence retryablehttp's default logger; callers that want request
	// logging can set c.Logger themselves.
	c.Logger = log.New(io.Discard, "", 0)

	return c
}
