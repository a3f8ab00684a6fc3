// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buildconfig

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"go.chromium.org/infra/build/ppwalk/build/metadata"
)

type starMDReceiver struct {
	Metadata metadata.Metadata
}

func (r starMDReceiver) String() string {
	return "metadata"
}

func (starMDReceiver) Type() string          { return "metadata" }
func (starMDReceiver) Freeze()               {}
func (starMDReceiver) Truth() starlark.Bool  { return starlark.True }
func (starMDReceiver) Hash() (uint32, error) { return 0, errors.New("metadata is not hashable") }

// starActions returns actions, which contains:
//
//	metadata(key, value): sets key=value in metadata by Starlark config.
func starActions(md metadata.Metadata) starlark.Value {
	receiver := starMDReceiver{Metadata: md}
	return starlarkstruct.FromStringDict(starlark.String("actions"), map[string]starlark.Value{
		"metadata": starlark.NewBuiltin("metadata", starActionsMetadata).BindReceiver(receiver),
	})
}

// Starlark value to access metadata.
func starMetadata(md metadata.Metadata) starlark.Value {
	dict := starlark.NewDict(md.Size())
	// Starlark dictionaries preserve insertion order, so we iterate over the
	// sorted keys to ensure a deterministic order.
	for _, k := range md.SortedKeys() {
		dict.SetKey(starlark.String(k), starlark.String(md.Get(k)))
	}
	dict.Freeze()
	return dict
}

// Starlark value to access flags.
func starFlags(flags map[string]string) starlark.Value {
	dict := starlark.NewDict(len(flags))
	for k, v := range flags {
		dict.SetKey(starlark.String(k), starlark.String(v))
	}
	dict.Freeze()
	return dict
}

// Starlark function `metadata(key, value)` to set key=value in metadata.
func starActionsMetadata(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, ok := fn.Receiver().(starMDReceiver)
	if !ok {
		return starlark.None, fmt.Errorf("unexpected receiver: %v", fn.Receiver())
	}
	var key, value string
	err := starlark.UnpackArgs("metadata", args, kwargs, "key", &key, "value", &value)
	if err != nil {
		return starlark.None, err
	}
	if err := c.Metadata.Set(key, value); err != nil {
		return starlark.None, err
	}
	return starlark.None, nil
}
