package simd

// VecAdd performs dst += src for float64 vectors
func VecAdd(dst, src []float64) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddComplex performs dst += src for complex128 vectors
func VecAddComplex(dst, src []complex128) {
	i := 0
	for ; i <= len(dst)-2; i += 2 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecScale performs dst *= scale
func VecScale(dst []float64, scale float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] *= scale
		dst[i+1] *= scale
		dst[i+2] *= scale
		dst[i+3] *= scale
	}
	for ; i < len(dst); i++ {
		dst[i] *= scale
	}
}

// VecScaleComplex performs dst *= scale
func VecScaleComplex(dst []complex128, scale complex128) {
	for i := range dst {
		dst[i] *= scale
	}
}

// VecMulComplex performs the elementwise product dst[i] *= w[i].
// len(w) must be at least len(dst).
func VecMulComplex(dst, w []complex128) {
	w = w[:len(dst)]
	i := 0
	for ; i <= len(dst)-2; i += 2 {
		dst[i] *= w[i]
		dst[i+1] *= w[i+1]
	}
	for ; i < len(dst); i++ {
		dst[i] *= w[i]
	}
}
