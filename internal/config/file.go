package config

import (
	"bytes"
	"errors"
	"io"
	"modelops/internal/apperrors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// pipelineFile is the on-disk shape of PIPELINE_CONFIG. Every field is optional;
// unset fields keep their defaults.
type pipelineFile struct {
	Variants   []string           `yaml:"variants"`
	Policy     string             `yaml:"policy"`
	Interval   *duration          `yaml:"interval"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	Await      *struct {
		MaxAttempts int       `yaml:"maxAttempts"`
		Delay       *duration `yaml:"delay"`
		Backoff     string    `yaml:"backoff"`
	} `yaml:"await"`
	Merge *struct {
		Enabled    *bool  `yaml:"enabled"`
		APIURL     string `yaml:"apiUrl"`
		Repo       string `yaml:"repo"`
		Base       string `yaml:"base"`
		Head       string `yaml:"head"`
		PRFallback *bool  `yaml:"prFallback"`
	} `yaml:"merge"`
}

// duration accepts Go duration strings such as "5s" or "10m".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Configuration("PIPELINE_CONFIG", err.Error())
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	var f pipelineFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Configuration("PIPELINE_CONFIG", err.Error())
	}

	if len(f.Variants) > 0 {
		c.Pipeline.Variants = f.Variants
	}
	if f.Policy != "" {
		c.Pipeline.Policy = f.Policy
	}
	if f.Interval != nil {
		c.Pipeline.Interval = time.Duration(*f.Interval)
	}
	if len(f.Thresholds) > 0 {
		c.Pipeline.Thresholds = f.Thresholds
	}
	if a := f.Await; a != nil {
		if a.MaxAttempts != 0 {
			c.Pipeline.Await.MaxAttempts = a.MaxAttempts
		}
		if a.Delay != nil {
			c.Pipeline.Await.Delay = time.Duration(*a.Delay)
		}
		if a.Backoff != "" {
			c.Pipeline.Await.Backoff = a.Backoff
		}
	}
	if m := f.Merge; m != nil {
		if m.Enabled != nil {
			c.Merge.Enabled = *m.Enabled
		}
		if m.APIURL != "" {
			c.Merge.APIURL = m.APIURL
		}
		if m.Repo != "" {
			c.Merge.Repo = m.Repo
		}
		if m.Base != "" {
			c.Merge.Base = m.Base
		}
		if m.Head != "" {
			c.Merge.Head = m.Head
		}
		if m.PRFallback != nil {
			c.Merge.PRFallback = *m.PRFallback
		}
	}
	return nil
}
