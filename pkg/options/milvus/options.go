// Package milvusopts provides options for the Milvus corpus backend.
package milvusopts

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/statute-agent/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Milvus client configuration.
type Options struct {
	Address  string        `json:"address" mapstructure:"address"`
	Database string        `json:"database" mapstructure:"database"`
	Username string        `json:"username" mapstructure:"username"`
	Password string        `json:"-" mapstructure:"password"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`

	// ArabicCollection and EnglishCollection hold one embedding space each.
	ArabicCollection  string `json:"arabic-collection" mapstructure:"arabic-collection"`
	EnglishCollection string `json:"english-collection" mapstructure:"english-collection"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:           "localhost:19530",
		Database:          "default",
		Timeout:           30 * time.Second,
		ArabicCollection:  "articles_ar",
		EnglishCollection: "articles_en",
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "milvus."

	fs.StringVar(&o.Address, p+"address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Milvus username.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Milvus password.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Connection and operation timeout.")
	fs.StringVar(&o.ArabicCollection, p+"arabic-collection", o.ArabicCollection, "Collection holding Arabic article embeddings.")
	fs.StringVar(&o.EnglishCollection, p+"english-collection", o.EnglishCollection, "Collection holding English article embeddings.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus timeout must be positive"))
	}
	if o.ArabicCollection == "" {
		errs = append(errs, fmt.Errorf("milvus arabic-collection is required"))
	}
	return errs
}
