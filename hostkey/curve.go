package hostkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"
)

func ellipticCurve(algo string) elliptic.Curve {
	switch algo {
	case AlgoECDSA256:
		return elliptic.P256()
	case AlgoECDSA384:
		return elliptic.P384()
	case AlgoECDSA521:
		return elliptic.P521()
	default:
		return nil
	}
}

func unmarshalPoint(curve elliptic.Curve, data []byte) (x, y *big.Int) {
	return elliptic.Unmarshal(curve, data)
}

func marshalPoint(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}
