// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	AWS         AWSConfig      `mapstructure:"aws"`
	Queue       QueueConfig    `mapstructure:"queue"`
	Registry    RegistryConfig `mapstructure:"registry"`
	TableAPI    TableAPIConfig `mapstructure:"tableapi"`
	Exporter    ExporterConfig `mapstructure:"exporter"`
	HealthPort  int            `mapstructure:"healthport"`
	Attachments AttachmentsConfig
}

type AWSConfig struct {
	Region  string `mapstructure:"region"`
	RoleARN string `mapstructure:"rolearn"`
}

type QueueConfig struct {
	URL string `mapstructure:"url"`
}

type RegistryConfig struct {
	// Prefix namespaces registry keys and remote table names; a request's
	// registryPrefixOverride replaces it for one run.
	Prefix       string `mapstructure:"prefix"`
	TableIDTable string `mapstructure:"tableidtable"`
	StudyTable   string `mapstructure:"studytable"`
	RecordTable  string `mapstructure:"recordtable"`
	Endpoint     string `mapstructure:"endpoint"`
}

type TableAPIConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"apikey"`
	// PrincipalID is the exporter's own principal, granted full access to
	// every table it creates.
	PrincipalID int64 `mapstructure:"principalid"`
}

type ExporterConfig struct {
	Workers         int           `mapstructure:"workers"`
	ProgressPeriod  int           `mapstructure:"progressperiod"`
	RecordLoopDelay time.Duration `mapstructure:"recordloopdelay"`
	TimeZone        string        `mapstructure:"timezone"`
}

type AttachmentsConfig struct {
	// Bucket holds survey answer attachments and record-ID override lists.
	Bucket string `mapstructure:"bucket"`
}

func defaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			TableIDTable: "tablerunner-table-ids",
			StudyTable:   "tablerunner-studies",
			RecordTable:  "tablerunner-records",
		},
		Exporter: ExporterConfig{
			Workers:        4,
			ProgressPeriod: 1000,
			TimeZone:       "UTC",
		},
		HealthPort: 8090,
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "TABLERUNNER" and the dot character
// in keys is replaced by an underscore. For example, "queue.url" becomes
// "TABLERUNNER_QUEUE_URL".
func Load() (*Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("TABLERUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
