/*
 * Copyright 2025 James Orson.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads JSON configuration files into typed structs and runs
// their post-load validation.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/JamesOrson/defold/pkg/logger"
)

var (
	errInvalidConfigPtr = errors.New("config must be a non-nil pointer")
	errLoadConfigFailed = errors.New("failed to load configuration")
)

// Validator is implemented by config structs that check their own invariants
// after loading.
type Validator interface {
	Validate() error
}

// Loader reads configuration documents from local JSON files.
type Loader struct {
	logger logger.Logger
}

// NewLoader creates a config loader. A nil logger falls back to a discard
// logger; configuration loading must work before logging is set up.
func NewLoader(log logger.Logger) *Loader {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Loader{logger: log}
}

// Load reads and unmarshals the JSON file at path into dst.
func (l *Loader) Load(_ context.Context, path string, dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read file %q: %w", errLoadConfigFailed, path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: failed to unmarshal JSON from %q: %w", errLoadConfigFailed, path, err)
	}

	return nil
}

// LoadAndValidate loads the file into dst and, when dst implements
// Validator, runs its validation.
func (l *Loader) LoadAndValidate(ctx context.Context, path string, dst interface{}) error {
	if err := l.Load(ctx, path, dst); err != nil {
		return err
	}

	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid configuration in %q: %w", path, err)
		}
	}

	l.logger.Debug().Str("path", path).Msg("configuration loaded")

	return nil
}
