// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package validation validates inbound request payloads with
// go-playground/validator v10.
//
// A single validator instance is built once and shared; it caches struct
// metadata and registers the custom "realm" tag. Failures convert to the
// API error shape through ToAPIError:
//
//	req := validation.LoginRequest{Realm: r.FormValue("realm")}
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
//	    return
//	}
package validation
