// Package item models push items and their reconciliation against Pulp:
// the desired description of each content artifact, its observed state
// in Pulp, and the per-type logic to search, upload, update and
// associate it.
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Kind identifies a supported content type. The set is closed.
type Kind string

const (
	KindRPM       Kind = "rpm"
	KindFile      Kind = "file"
	KindErratum   Kind = "erratum"
	KindModuleMd  Kind = "modulemd"
	KindCompsXml  Kind = "comps"
	KindProductID Kind = "productid"
)

// Lifecycle state labels reported to the item-state sink.
const (
	Pending = "PENDING"
	Exists  = "EXISTS"
	Pushed  = "PUSHED"
)

// PushItem is the immutable desired description of one content artifact
// plus its destination repositories.
type PushItem struct {
	Kind Kind

	// Name is the item's destination name (e.g. RPM filename, file
	// relative path, or advisory ID for errata).
	Name string

	// Src is the local path to the item's content.
	Src string

	// Dest holds target repository IDs.
	Dest []string

	SHA256Sum  string
	SigningKey string

	// State is the lifecycle label (PENDING, EXISTS, PUSHED).
	State string

	// Metadata carried by some content types.
	Description  string
	Summary      string
	Version      string
	DisplayOrder int32
}

// WithState returns a copy with the lifecycle label replaced.
func (p PushItem) WithState(state string) PushItem {
	p.State = state
	return p
}

// BlockingChecksums reports whether WithChecksums will (probably) need
// to read the item's content.
func (p PushItem) BlockingChecksums() bool {
	return p.SHA256Sum == "" && p.Src != ""
}

// WithChecksums returns a copy with checksums guaranteed present,
// reading the content file if needed.
func (p PushItem) WithChecksums() (PushItem, error) {
	if p.SHA256Sum != "" || p.Src == "" {
		return p, nil
	}

	f, err := os.Open(p.Src)
	if err != nil {
		return p, fmt.Errorf("checksumming %s: %w", p.Name, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return p, fmt.Errorf("checksumming %s: %w", p.Name, err)
	}
	p.SHA256Sum = strings.ToLower(hex.EncodeToString(h.Sum(nil)))
	return p, nil
}
