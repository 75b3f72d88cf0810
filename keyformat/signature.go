package keyformat

import (
	"encoding/asn1"
	"math/big"

	"github.com/richardjennings/sshkit/internal/wire"
)

// asn1ECDSAToMPInts re-encodes the ASN.1 DER (r, s) pair crypto/ecdsa.Sign
// returns into the two concatenated SSH mpints RFC 5656 section 3.1.2
// wants, matching what hostkey.Key.Verify expects to unwrap.
func asn1ECDSAToMPInts(der []byte) []byte {
	var rs struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &rs); err != nil {
		return nil
	}
	b := wire.PutMPInt(nil, rs.R)
	return wire.PutMPInt(b, rs.S)
}
