// Copyright (c) 2023 Paweł Gaczyński
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qbman_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pawelgaczynski/qbman"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/ring"
	. "github.com/stretchr/testify/require"
)

const descriptorYAML = `
portals:
  - id: 2
    revision: 0x04010000
    clock_ratio: 1000
    stashing: true
    cena:
      path: %s
      size: %d
    cinh:
      path: %s
      offset: 0
      size: %d
`

func backingFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	NoError(t, os.WriteFile(path, make([]byte, size), 0o600))

	return path
}

func TestParseDescriptorConfigs(t *testing.T) {
	data := fmt.Sprintf(descriptorYAML, "/dev/cena", ring.CENASize, "/dev/cinh", ring.CINHSize)
	configs, err := qbman.ParseDescriptorConfigs([]byte(data))
	NoError(t, err)
	Len(t, configs, 1)
	Equal(t, 2, configs[0].ID)
	Equal(t, ring.Rev4100, configs[0].Revision)
	Equal(t, uint32(1000), configs[0].ClockRatio)
	True(t, configs[0].Stashing)
	Equal(t, "/dev/cena", configs[0].CENA.Path)
	Equal(t, ring.CINHSize, configs[0].CINH.Size)
}

func TestParseDescriptorConfigsValidation(t *testing.T) {
	for _, data := range []string{
		fmt.Sprintf(descriptorYAML, "a", ring.CENASize-1, "b", ring.CINHSize),
		fmt.Sprintf(descriptorYAML, "a", ring.CENASize, "b", 16),
		"portals:\n  - id: 1\n    clock_ratio: 0\n",
		"portals: [",
	} {
		_, err := qbman.ParseDescriptorConfigs([]byte(data))
		ErrorIs(t, err, qbmanErrors.ErrInvalidConfig)
	}
}

func TestLoadDescriptorConfigs(t *testing.T) {
	cena := backingFile(t, "cena", ring.CENASize)
	cinh := backingFile(t, "cinh", ring.CINHSize)
	path := filepath.Join(t.TempDir(), "portals.yaml")
	data := fmt.Sprintf(descriptorYAML, cena, ring.CENASize, cinh, ring.CINHSize)
	NoError(t, os.WriteFile(path, []byte(data), 0o600))

	configs, err := qbman.LoadDescriptorConfigs(path)
	NoError(t, err)
	Len(t, configs, 1)

	desc, err := configs[0].Map()
	NoError(t, err)
	Equal(t, 2, desc.ID)
	True(t, desc.Stashing)
	Equal(t, ring.CENASize, desc.Windows.CENA.Size())
	Equal(t, ring.CINHSize, desc.Windows.CINH.Size())
	NoError(t, desc.Windows.CENA.Close())
	NoError(t, desc.Windows.CINH.Close())

	configs[0].CINH.Path = filepath.Join(t.TempDir(), "missing")
	_, err = configs[0].Map()
	Error(t, err)

	_, err = qbman.LoadDescriptorConfigs(filepath.Join(t.TempDir(), "missing.yaml"))
	Error(t, err)
}
