// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package services adapts cmdgate components to suture.Service.
//
// Every service returns when its context is canceled and implements
// fmt.Stringer so supervisor logs name it.
package services
