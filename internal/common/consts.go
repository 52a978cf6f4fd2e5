// -*- mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2017-2018 Canonical Ltd
// Copyright (C) 2018-2019 IOTech Ltd
// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package common

// ConfigDirectory/ConfigFileName and CorrelationHeader are kept from the
// teacher's consts.go; the HTTP-route constants (APIv1Prefix, APICallbackRoute,
// APIPingRoute, ...) are dropped along with gorilla/mux — see DESIGN.md.
const (
	ConfigDirectory = "./res"
	ConfigFileName  = "configuration.toml"

	// CorrelationHeader names the log field used to correlate every line
	// emitted during one acquisition or scan, filling the role the
	// teacher's clients.CorrelationHeader HTTP header played.
	CorrelationHeader = "X-Correlation-ID"
)
