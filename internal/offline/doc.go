// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline validates backend URLs for the offline fallback tier.
//
// The offline tier must not depend on the network, so its backend has to
// live on a loopback address. Every backend URL, local or not, is limited
// to the http and https schemes.
//
// # Usage
//
//	if err := offline.ValidateLocalURL(cfg.Providers.Offline.BaseURL); err != nil {
//	    // refuse to start
//	}
package offline
