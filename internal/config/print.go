// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package config

import (
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// MarshalRedactedYAML renders the config as YAML with secrets masked.
func (c Config) MarshalRedactedYAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, oops.Code("CONFIG_MARSHAL_FAILED").Wrap(err)
	}
	return out, nil
}
