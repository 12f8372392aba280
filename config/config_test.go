// Copyright 2024 The ZlomekFS Authors.
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

package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlomekfs/zfschan/config"
)

func TestLoadWithoutFlagsReturnsDefaults(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs, v)
	require.NoError(t, fs.Parse(nil))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadHonorsExplicitFlag(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs, v)
	require.NoError(t, fs.Parse([]string{"--protocol-max-message=8192", "--debug"}))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.ProtocolMaxMessage)
	assert.True(t, cfg.Debug)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("ZFSCHAN_REQUEST_TIMEOUT", "45s")

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs, v)
	require.NoError(t, fs.Parse(nil))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
}
