// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018 Circutor S.A.
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriverErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("checksum mismatch")
	err := NewError(KindChecksum, "eload.ConfigGet", cause)
	assert.True(t, IsKind(err, KindChecksum))
	assert.False(t, IsKind(err, KindIO))
	assert.Contains(t, err.Error(), "checksum")
	assert.Contains(t, err.Error(), "eload.ConfigGet")
}

func TestDriverErrorNoCause(t *testing.T) {
	err := NewError(KindDeviceClosed, "scope.ConfigSet", nil)
	assert.True(t, IsKind(err, KindDeviceClosed))
	assert.Equal(t, "scope.ConfigSet: device-closed", err.Error())
}

func TestIsKindNonDriverError(t *testing.T) {
	assert.False(t, IsKind(fmt.Errorf("plain error"), KindIO))
}
