package audio

// WireSampleRate is the sample rate agreed with the backend for all
// transmitted and received audio, independent of the capture device's
// native rate.
const WireSampleRate = 24000

// Resample converts samples from srcRate to dstRate using linear
// interpolation. When the rates match the input is returned as-is,
// no copy. This is a basic implementation - for production-grade
// fidelity, consider a library with sinc interpolation. Each call is
// stateless: no phase is carried across buffers, so a minor
// discontinuity at buffer boundaries is accepted (inaudible for
// speech at these buffer sizes).
func Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return in
	}

	outLen := len(in) * dstRate / srcRate
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < outLen; i++ {
		// Source position for this output sample
		srcPos := float64(i) * ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(in) {
			idx1 = len(in) - 1
		}

		// Interpolate between the two neighboring samples
		frac := float32(srcPos - float64(idx0))
		out[i] = in[idx0]*(1.0-frac) + in[idx1]*frac
	}

	return out
}
