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

// Package httperr translates an HTTP response's status into the
// core's error vocabulary, the single choke point every backend calls
// after a request completes instead of inspecting status codes itself.
package httperr

import (
	"net/http"

	"github.com/fhir-org/igpkg"
	"github.com/fhir-org/igpkg/backend"
)

// FromStatus classifies an HTTP response status for the named server.
// A 404 becomes [backend.ErrNotFound]; any other non-2xx status
// becomes an [igpkg.TransportError]. Returns nil for 2xx.
func FromStatus(server string, statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return backend.ErrNotFound
	default:
		return &igpkg.TransportError{Server: server, StatusCode: statusCode}
	}
}
