package ds

import (
	"math/big"

	"github.com/magentakit/magenta/internal/modmath"
)

// Params are the discrete-log domain parameters: a prime modulus P, the prime
// order Q of the subgroup used, and a generator G of that subgroup.
type Params struct {
	P *big.Int
	Q *big.Int
	G *big.Int
}

const (
	primeP = "13232376895198612407547930718267435757728527029623408872245156039757713029036368719146452186041204237350521785240337048752071462798273003935646236777459223"
	primeQ = "857393771208094202104259627990318636601332086981"
	gamma  = "7521483903782060346617399017671409232618347905458279916384743575270644052774952605706862089884256074095039537064180858502511421752637985122233359298954651"
)

// Default holds the fixed 512-bit parameter set used for every signature.
var Default = defaultParams()

func defaultParams() *Params {
	p := mustInt(primeP)
	q := mustInt(primeQ)

	// g = gamma^((p-1)/q) mod p lies in the order-q subgroup.
	e := new(big.Int).Sub(p, big.NewInt(1))
	e.Div(e, q)
	g := modmath.ModPow(mustInt(gamma), e, p)

	return &Params{P: p, Q: q, G: g}
}

func mustInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("ds: bad constant " + s)
	}
	return n
}
