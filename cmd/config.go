// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/crypto/hkdf"

	"github.com/fiot-project/fiot-esp/esp"
	"github.com/fiot-project/fiot-esp/internal/session"
)

// Log configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Net configuration for the UDP socket an fiot-esp role listens on or
// dials out to.
type NetConfig struct {
	ListenAddr string `mapstructure:"listen"`
	RemoteAddr string `mapstructure:"remote"`
}

// Database configuration for the association bookkeeping store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// HTTP configuration for the introspection API.
type HTTPConfig struct {
	IP   string `mapstructure:"ip"`
	Port string `mapstructure:"port"`
}

// ListenAddress returns the concatenated IP:Port address to listen on.
func (h *HTTPConfig) ListenAddress() string {
	return h.IP + ":" + h.Port
}

func (dc *DatabaseConfig) openStore() (*session.Store, error) {
	if dc.DSN == "" {
		return nil, errors.New("database configuration error: dsn is required")
	}
	dc.Type = strings.ToLower(dc.Type)
	if dc.Type != "sqlite" && dc.Type != "postgres" {
		return nil, fmt.Errorf("unsupported database type: %s (must be 'sqlite' or 'postgres')", dc.Type)
	}
	return session.InitDB(dc.Type, dc.DSN)
}

// HexKeyMaterialParams provisions a security association directly
// from hex-encoded secrets: exactly what SetRootKey/SetSalt need, for
// both directions.
type HexKeyMaterialParams struct {
	OutRootKey string `mapstructure:"out_root_key"`
	OutSalt    string `mapstructure:"out_salt"`
	InRootKey  string `mapstructure:"in_root_key"`
	InSalt     string `mapstructure:"in_salt"`
}

// PassphraseKeyMaterialParams provisions a security association by
// expanding an operator-supplied passphrase with HKDF, for
// deployments that would rather hand out one secret per SPI than four
// hex blobs.
type PassphraseKeyMaterialParams struct {
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

// AssociationProfile describes one security association to
// provision at startup. Unmarshalling requires two steps: first the
// transform and key_material "kind" are decoded, then RawKeyMaterial
// is re-decoded into whichever typed struct that kind implies. See
// UnmarshalKeyMaterial.
type AssociationProfile struct {
	SPI             uint32                 `mapstructure:"spi"`
	Transform       string                 `mapstructure:"transform"`
	Peer            string                 `mapstructure:"peer"`
	KeyMaterialKind string                 `mapstructure:"key_material_kind"`
	RawKeyMaterial  map[string]interface{} `mapstructure:"key_material"`

	Hex        *HexKeyMaterialParams
	Passphrase *PassphraseKeyMaterialParams

	transform esp.Transform
}

// UnmarshalKeyMaterial converts RawKeyMaterial to the typed field
// implied by KeyMaterialKind. Must be called after viper/mapstructure
// unmarshaling populates RawKeyMaterial.
func (p *AssociationProfile) UnmarshalKeyMaterial() error {
	if p.RawKeyMaterial == nil {
		return fmt.Errorf("key_material field is required for spi %d", p.SPI)
	}

	switch p.KeyMaterialKind {
	case "hex":
		var params HexKeyMaterialParams
		if err := mapstructure.Decode(p.RawKeyMaterial, &params); err != nil {
			return fmt.Errorf("failed to decode hex key material for spi %d: %w", p.SPI, err)
		}
		p.Hex = &params

	case "passphrase":
		var params PassphraseKeyMaterialParams
		if err := mapstructure.Decode(p.RawKeyMaterial, &params); err != nil {
			return fmt.Errorf("failed to decode passphrase key material for spi %d: %w", p.SPI, err)
		}
		p.Passphrase = &params

	default:
		return fmt.Errorf("unsupported key_material_kind %q for spi %d", p.KeyMaterialKind, p.SPI)
	}

	p.RawKeyMaterial = nil
	return nil
}

func parseTransform(name string) (esp.Transform, error) {
	switch name {
	case "magma_mgm_ktree":
		return esp.TransformMagmaMGMKTree, nil
	case "magma_mgm_mac_ktree":
		return esp.TransformMagmaMGMMACKTree, nil
	case "kuznechik_mgm_ktree":
		return esp.TransformKuznechikMGMKTree, nil
	case "kuznechik_mgm_mac_ktree":
		return esp.TransformKuznechikMGMMACKTree, nil
	default:
		return esp.TransformUndefined, fmt.Errorf("unsupported transform %q", name)
	}
}

// validate checks the profile and, as a side effect, resolves its
// string transform name to an esp.Transform.
func (p *AssociationProfile) validate() error {
	if p.SPI <= 255 {
		return fmt.Errorf("spi %d: must be greater than 255", p.SPI)
	}
	t, err := parseTransform(p.Transform)
	if err != nil {
		return err
	}
	p.transform = t

	if err := p.UnmarshalKeyMaterial(); err != nil {
		return err
	}
	switch {
	case p.Hex != nil:
		return p.validateHex()
	case p.Passphrase != nil:
		return p.validatePassphrase()
	default:
		return fmt.Errorf("spi %d: no key material decoded", p.SPI)
	}
}

func (p *AssociationProfile) validateHex() error {
	saltSize := p.transform.SaltSize()
	for _, f := range []struct {
		name string
		val  string
		size int
	}{
		{"out_root_key", p.Hex.OutRootKey, 32},
		{"in_root_key", p.Hex.InRootKey, 32},
		{"out_salt", p.Hex.OutSalt, saltSize},
		{"in_salt", p.Hex.InSalt, saltSize},
	} {
		b, err := hex.DecodeString(f.val)
		if err != nil {
			return fmt.Errorf("spi %d: %s is not valid hex: %w", p.SPI, f.name, err)
		}
		if len(b) != f.size {
			return fmt.Errorf("spi %d: %s must decode to %d bytes, got %d", p.SPI, f.name, f.size, len(b))
		}
	}
	return nil
}

func (p *AssociationProfile) validatePassphrase() error {
	if p.Passphrase.Passphrase == "" {
		return fmt.Errorf("spi %d: passphrase is required", p.SPI)
	}
	if p.Passphrase.Salt == "" {
		return fmt.Errorf("spi %d: salt is required", p.SPI)
	}
	return nil
}

// deriveKeyMaterial resolves a validated profile down to the four
// byte strings Context.SetRootKey/SetSalt need, expanding a
// passphrase with HKDF-SHA256 when that's the provisioning kind in
// use.
func (p *AssociationProfile) deriveKeyMaterial() (outRoot, outSalt, inRoot, inSalt []byte, err error) {
	if p.Hex != nil {
		outRoot, _ = hex.DecodeString(p.Hex.OutRootKey)
		outSalt, _ = hex.DecodeString(p.Hex.OutSalt)
		inRoot, _ = hex.DecodeString(p.Hex.InRootKey)
		inSalt, _ = hex.DecodeString(p.Hex.InSalt)
		return outRoot, outSalt, inRoot, inSalt, nil
	}

	saltSize := p.transform.SaltSize()
	total := 32 + saltSize + 32 + saltSize
	kdf := hkdf.New(sha256.New, []byte(p.Passphrase.Passphrase), []byte(p.Passphrase.Salt), []byte(fmt.Sprintf("fiot-esp/spi/%d", p.SPI)))
	buf := make([]byte, total)
	if _, err := io.ReadFull(kdf, buf); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("spi %d: hkdf expand: %w", p.SPI, err)
	}
	outRoot = buf[:32]
	outSalt = buf[32 : 32+saltSize]
	inRoot = buf[32+saltSize : 64+saltSize]
	inSalt = buf[64+saltSize : 64+2*saltSize]
	return outRoot, outSalt, inRoot, inSalt, nil
}

// FIOTServerConfig is the top-level configuration for `fiot-esp
// server`.
type FIOTServerConfig struct {
	Log          LogConfig            `mapstructure:"log"`
	DB           DatabaseConfig       `mapstructure:"db"`
	Net          NetConfig            `mapstructure:"net"`
	HTTP         HTTPConfig           `mapstructure:"http"`
	WindowSize   int                  `mapstructure:"window_size"`
	TFCLength    int                  `mapstructure:"tfc_length"`
	Associations []AssociationProfile `mapstructure:"associations"`
}

func (c *FIOTServerConfig) validate() error {
	if c.Net.ListenAddr == "" {
		return errors.New("net.listen is required")
	}
	if c.HTTP.IP == "" || c.HTTP.Port == "" {
		return errors.New("http.ip and http.port are required")
	}
	if len(c.Associations) == 0 {
		return errors.New("at least one entry in associations is required")
	}
	seen := make(map[uint32]bool)
	for i := range c.Associations {
		if err := c.Associations[i].validate(); err != nil {
			return fmt.Errorf("associations[%d]: %w", i, err)
		}
		spi := c.Associations[i].SPI
		if seen[spi] {
			return fmt.Errorf("associations[%d]: duplicate spi %d", i, spi)
		}
		seen[spi] = true
	}
	return nil
}

// FIOTClientConfig is the top-level configuration for `fiot-esp
// client`.
type FIOTClientConfig struct {
	Log         LogConfig          `mapstructure:"log"`
	Net         NetConfig          `mapstructure:"net"`
	WindowSize  int                `mapstructure:"window_size"`
	TFCLength   int                `mapstructure:"tfc_length"`
	Association AssociationProfile `mapstructure:"association"`
	IntervalMS  int                `mapstructure:"interval_ms"`
}

func (c *FIOTClientConfig) validate() error {
	if c.Net.RemoteAddr == "" {
		return errors.New("net.remote is required")
	}
	if c.IntervalMS <= 0 {
		c.IntervalMS = 1000
	}
	return c.Association.validate()
}
