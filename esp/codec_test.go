// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package esp

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, headerSize)
	writeHeader(buf, 0x01020304, 0x0A0B0C0D)
	spi, seq := parseHeader(buf)
	if spi != 0x01020304 || seq != 0x0A0B0C0D {
		t.Fatalf("spi=%#x seq=%#x, want 0x01020304/0x0a0b0c0d", spi, seq)
	}
}

func TestBuildPayloadSectionNoTFC(t *testing.T) {
	payload := []byte("hi")
	section, err := buildPayloadSection(payload, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if string(section) != "hi" {
		t.Fatalf("section = %q, want %q", section, "hi")
	}
}

func TestBuildPayloadSectionTFCPadsAndPrefixesLength(t *testing.T) {
	payload := []byte("hi")
	section, err := buildPayloadSection(payload, 16)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(section) != 16 {
		t.Fatalf("len(section) = %d, want 16", len(section))
	}
	if section[0] != 0 || section[1] != 2 {
		t.Fatalf("length prefix = %d,%d, want 0,2", section[0], section[1])
	}
	if string(section[2:4]) != "hi" {
		t.Fatalf("payload bytes = %q, want %q", section[2:4], "hi")
	}
	for i := 4; i < 16; i++ {
		if section[i] != 0xFF {
			t.Fatalf("pad byte %d = %#x, want 0xff", i, section[i])
		}
	}
}

func TestBuildPayloadSectionTFCTooSmallFails(t *testing.T) {
	_, err := buildPayloadSection([]byte("hello world"), 8)
	if err == nil {
		t.Fatal("expected error when payload does not fit TFC length")
	}
}

func TestTrailerRoundTripNoTFC(t *testing.T) {
	payload := []byte("hi")
	trailer := buildTrailer(len(payload), 0x11)
	section := append(append([]byte(nil), payload...), trailer...)

	if len(section)%4 != 0 {
		t.Fatalf("section length %d not 4-byte aligned", len(section))
	}

	gotPayload, nextHeader, err := stripTrailer(section, 0)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if string(gotPayload) != "hi" {
		t.Fatalf("payload = %q, want %q", gotPayload, "hi")
	}
	if nextHeader != 0x11 {
		t.Fatalf("nextHeader = %#x, want 0x11", nextHeader)
	}
}

func TestTrailerRoundTripWithTFC(t *testing.T) {
	payload := []byte("hi")
	tfcLen := 16
	section, err := buildPayloadSection(payload, tfcLen)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	trailer := buildTrailer(len(section), 0x22)
	full := append(append([]byte(nil), section...), trailer...)

	gotPayload, nextHeader, err := stripTrailer(full, tfcLen)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if string(gotPayload) != "hi" {
		t.Fatalf("payload = %q, want %q", gotPayload, "hi")
	}
	if nextHeader != 0x22 {
		t.Fatalf("nextHeader = %#x, want 0x22", nextHeader)
	}
}

func TestStripTrailerRejectsShortRegion(t *testing.T) {
	_, _, err := stripTrailer([]byte{0x00}, 0)
	if err == nil {
		t.Fatal("expected error for a region shorter than the minimum trailer")
	}
}
