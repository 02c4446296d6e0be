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

package qbman

import (
	"os"

	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/mmio"
	"github.com/pawelgaczynski/qbman/ring"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Descriptor is what the platform tells about one portal.
type Descriptor struct {
	ID       int
	Revision uint32
	// ClockRatio is the number of 256 queue manager cycles per nanosecond.
	ClockRatio uint32
	Stashing   bool
	Windows    ring.Windows
}

type WindowConfig struct {
	Path   string `yaml:"path"`
	Offset int64  `yaml:"offset"`
	Size   int    `yaml:"size"`
}

// DescriptorConfig is the file form of a Descriptor.
type DescriptorConfig struct {
	ID         int          `yaml:"id"`
	Revision   uint32       `yaml:"revision"`
	ClockRatio uint32       `yaml:"clock_ratio"`
	Stashing   bool         `yaml:"stashing"`
	CENA       WindowConfig `yaml:"cena"`
	CINH       WindowConfig `yaml:"cinh"`
}

type descriptorFile struct {
	Portals []DescriptorConfig `yaml:"portals"`
}

func LoadDescriptorConfigs(path string) ([]DescriptorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read descriptor file %s", path)
	}

	return ParseDescriptorConfigs(data)
}

func ParseDescriptorConfigs(data []byte) ([]DescriptorConfig, error) {
	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(qbmanErrors.ErrInvalidConfig, "parse descriptors: %s", err)
	}
	for i := range file.Portals {
		if err := file.Portals[i].validate(); err != nil {
			return nil, err
		}
	}

	return file.Portals, nil
}

func (c *DescriptorConfig) validate() error {
	switch {
	case c.ClockRatio == 0:
		return errors.Wrapf(qbmanErrors.ErrInvalidConfig, "portal %d: clock_ratio is zero", c.ID)
	case c.CENA.Size < ring.CENASize:
		return errors.Wrapf(qbmanErrors.ErrInvalidConfig, "portal %d: cena window of %d bytes", c.ID, c.CENA.Size)
	case c.CINH.Size < ring.CINHSize:
		return errors.Wrapf(qbmanErrors.ErrInvalidConfig, "portal %d: cinh window of %d bytes", c.ID, c.CINH.Size)
	}

	return nil
}

// Map maps both windows and returns the descriptor of a portal ready to be
// attached.
func (c *DescriptorConfig) Map() (Descriptor, error) {
	cena, err := mmio.Map(c.CENA.Path, c.CENA.Offset, c.CENA.Size)
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "portal %d: map cena", c.ID)
	}
	cinh, err := mmio.Map(c.CINH.Path, c.CINH.Offset, c.CINH.Size)
	if err != nil {
		_ = cena.Close()

		return Descriptor{}, errors.Wrapf(err, "portal %d: map cinh", c.ID)
	}

	return Descriptor{
		ID:         c.ID,
		Revision:   c.Revision,
		ClockRatio: c.ClockRatio,
		Stashing:   c.Stashing,
		Windows:    ring.Windows{CENA: cena, CINH: cinh},
	}, nil
}
