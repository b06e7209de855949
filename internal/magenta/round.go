package magenta

import "github.com/magentakit/magenta/internal/blockutil"

// feistelRound maps (x1, x2) to (x2, x1 ^ F(x2 || k)).
func feistelRound(x blockutil.Block, k blockutil.Half) blockutil.Block {
	x1, x2 := blockutil.Split(x)
	f := roundFunc(blockutil.Concat(x2, k))
	return blockutil.Concat(x2, blockutil.XorHalf(x1, f))
}

// roundFunc is the even-byte half of the depth-3 mixing transform.
func roundFunc(x blockutil.Block) blockutil.Half {
	return evens(mix(x))
}

// mix computes C(mixDepth, x) where C(1, x) = T(x) and
// C(r, x) = T((E(C(r-1,x)) ^ x_hi) || (O(C(r-1,x)) ^ x_lo)).
func mix(x blockutil.Block) blockutil.Block {
	hi, lo := blockutil.Split(x)
	c := transform(x)
	for r := 2; r <= mixDepth; r++ {
		c = transform(blockutil.Concat(
			blockutil.XorHalf(evens(c), hi),
			blockutil.XorHalf(odds(c), lo),
		))
	}
	return c
}

// transform is T = P∘P∘P∘P.
func transform(x blockutil.Block) blockutil.Block {
	for i := 0; i < 4; i++ {
		x = permute(x)
	}
	return x
}

// permute is P: the pair (x[i], x[i+8]) becomes (A(x[i], x[i+8]), A(x[i+8], x[i]))
// at positions 2i and 2i+1.
func permute(x blockutil.Block) blockutil.Block {
	var v blockutil.Block
	for i := 0; i < blockutil.HalfSize; i++ {
		a, b := x[i], x[i+blockutil.HalfSize]
		v[2*i] = combine(a, b)
		v[2*i+1] = combine(b, a)
	}
	return v
}

// combine is A(x, y) = f(x ^ f(y)).
func combine(x, y byte) byte {
	return sbox[x^sbox[y]]
}

func evens(x blockutil.Block) blockutil.Half {
	var h blockutil.Half
	for i := range h {
		h[i] = x[2*i]
	}
	return h
}

func odds(x blockutil.Block) blockutil.Half {
	var h blockutil.Half
	for i := range h {
		h[i] = x[2*i+1]
	}
	return h
}

// swap is V: it exchanges the upper and lower halves.
func swap(x blockutil.Block) blockutil.Block {
	hi, lo := blockutil.Split(x)
	return blockutil.Concat(lo, hi)
}
