// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the credential service over HTTP under /api/auth.
//
// Every response is a JSON envelope: {"success":true,"data":...} on success
// and {"success":false,"error":{"code":...,"message":...}} on failure. Error
// codes are the stable codes carried by the service's oops errors.
package httpapi
