package storage

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// The path layout used by a Store within its driver:
//
//	/objects/<algorithm>/<hex:2>/<hex>   canonical object encodings
//	/payloads/<algorithm>/<hex:2>/<hex>  raw blob payloads
//	/tags/<name>                         tag files holding a digest string
//	/staging/<algorithm>__<hex>          staging entries
//	/packages/...                        package index data
const (
	objectsPrefix  = "/objects"
	payloadsPrefix = "/payloads"
	tagsPrefix     = "/tags"
	stagingPrefix  = "/staging"
	packagesPrefix = "/packages"
)

func objectPath(dgst digest.Digest) string {
	hex := dgst.Hex()
	return fmt.Sprintf("%s/%s/%s/%s", objectsPrefix, dgst.Algorithm(), hex[:2], hex)
}

func payloadPath(dgst digest.Digest) string {
	hex := dgst.Hex()
	return fmt.Sprintf("%s/%s/%s/%s", payloadsPrefix, dgst.Algorithm(), hex[:2], hex)
}

func tagPath(name string) string {
	return tagsPrefix + "/" + strings.TrimPrefix(name, "/")
}

func stagingPath(dgst digest.Digest) string {
	return fmt.Sprintf("%s/%s__%s", stagingPrefix, dgst.Algorithm(), dgst.Hex())
}

// digestFromStagingName reverses stagingPath's flattened file name.
func digestFromStagingName(name string) (digest.Digest, error) {
	algorithm, hex, ok := strings.Cut(name, "__")
	if !ok {
		return "", fmt.Errorf("malformed staging entry name: %q", name)
	}
	dgst := digest.NewDigestFromHex(algorithm, hex)
	if err := dgst.Validate(); err != nil {
		return "", err
	}
	return dgst, nil
}
