// Package qrcode renders copy-paste payment payloads as scannable PNG images.
package qrcode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const DefaultSize = 256

// PNGBase64 encodes payload as a QR code and returns the PNG as standard base64.
func PNGBase64(payload string, size int) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", errors.New("empty qr payload")
	}
	if size <= 0 {
		size = DefaultSize
	}

	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return "", err
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
